// Package watcher reports debounced changes to markdown files below a root
// directory.
package watcher

import "time"

type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	// OpRename is reported for the old name; the new name arrives as OpCreate.
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one file. Path is absolute.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}
