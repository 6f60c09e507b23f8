package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

func errMissingField(name string) error {
	return fmt.Errorf("missing field %q", name)
}

func trimOutput(stdout []byte) []byte {
	return bytes.TrimSpace(stdout)
}

// parseSnapshotList decodes `snapshots --json`. Empty output is an empty
// list. Entries are either snapshots, `[group, [snapshots]]` pairs or
// `{"group_key": ..., "snapshots": [...]}` objects; groups are flattened.
func parseSnapshotList(stdout []byte) ([]Snapshot, error) {
	data := trimOutput(stdout)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []Snapshot{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &ParseError{Op: "snapshots", Err: err}
	}

	snapshots := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		entry = bytes.TrimSpace(entry)
		switch {
		case len(entry) > 0 && entry[0] == '[':
			var pair []json.RawMessage
			if err := json.Unmarshal(entry, &pair); err != nil {
				return nil, &ParseError{Op: "snapshots", Err: err}
			}
			if len(pair) != 2 {
				return nil, &ParseError{Op: "snapshots", Err: fmt.Errorf("snapshot group has %d elements, want 2", len(pair))}
			}
			var group []Snapshot
			if err := json.Unmarshal(pair[1], &group); err != nil {
				return nil, &ParseError{Op: "snapshots", Err: err}
			}
			snapshots = append(snapshots, group...)
		case len(entry) > 0 && entry[0] == '{':
			var probe struct {
				Snapshots *[]Snapshot `json:"snapshots"`
			}
			if err := json.Unmarshal(entry, &probe); err != nil {
				return nil, &ParseError{Op: "snapshots", Err: err}
			}
			if probe.Snapshots != nil {
				snapshots = append(snapshots, *probe.Snapshots...)
				continue
			}
			var s Snapshot
			if err := json.Unmarshal(entry, &s); err != nil {
				return nil, &ParseError{Op: "snapshots", Err: err}
			}
			snapshots = append(snapshots, s)
		default:
			return nil, &ParseError{Op: "snapshots", Err: fmt.Errorf("unexpected entry %s", entry)}
		}
	}
	return snapshots, nil
}

// forgetLine returns the first stdout line that starts with '['. Engines
// print progress text before the JSON array; without such a line the result
// is empty.
func forgetLine(stdout []byte) []byte {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 && line[0] == '[' {
			return append([]byte(nil), line...)
		}
	}
	return nil
}

// stringList decodes either a JSON array of strings or a single
// comma-separated string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = strings.Split(s, ",")
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// Backup message types.
const (
	MessageStatus  = "status"
	MessageSummary = "summary"
	MessageError   = "error"
)

// BackupEvent is one line of `backup --json` output.
type BackupEvent struct {
	MessageType string `json:"message_type"`

	// status
	PercentDone    float64  `json:"percent_done"`
	TotalFiles     uint64   `json:"total_files"`
	FilesDone      uint64   `json:"files_done"`
	TotalBytes     uint64   `json:"total_bytes"`
	BytesDone      uint64   `json:"bytes_done"`
	SecondsElapsed float64  `json:"seconds_elapsed"`
	CurrentFiles   []string `json:"current_files"`

	// summary
	FilesNew            uint64  `json:"files_new"`
	FilesChanged        uint64  `json:"files_changed"`
	FilesUnmodified     uint64  `json:"files_unmodified"`
	DataAdded           uint64  `json:"data_added"`
	TotalFilesProcessed uint64  `json:"total_files_processed"`
	TotalBytesProcessed uint64  `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          string  `json:"snapshot_id"`

	// error
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Item string `json:"item,omitempty"`
}

var errNotEvent = errors.New("not a backup event")

// ParseBackupEvent decodes one output line. Lines that are not JSON objects
// with a message_type return an error and should be shown as plain text.
func ParseBackupEvent(line []byte) (BackupEvent, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return BackupEvent{}, errNotEvent
	}
	var ev BackupEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return BackupEvent{}, &ParseError{Op: "backup", Err: err}
	}
	if ev.MessageType == "" {
		// rustic prints only the final snapshot summary
		if ev.SnapshotID == "" {
			var probe struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(line, &probe) == nil && probe.ID != "" {
				ev.SnapshotID = probe.ID
			}
		}
		if ev.SnapshotID == "" {
			return BackupEvent{}, errNotEvent
		}
		ev.MessageType = MessageSummary
	}
	return ev, nil
}
