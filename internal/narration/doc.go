// Package narration ingests the newline-delimited JSON frames produced by
// the narration backend and queues their audio on the playback engine.
//
// Each line is one frame:
//
//	{"type":"audio","segment":3,"format":"mp3","audio":"<base64>","text":"...","cues":["thunder"]}
//	{"type":"audio","segment":4,"url":"https://cdn.example.com/4.mp3"}
//	{"type":"text","segment":5,"text":"..."}
//	{"type":"end"}
package narration
