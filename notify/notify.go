// Package notify carries user-visible notices out of the operation boundaries. Operations never panic or
// escalate; they log, notify and return the error to their caller.
package notify

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/types"
)

type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "info"
}

// Notice is a transient message for the user, the equivalent of a toast.
type Notice struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

type Notifier interface {
	Notify(Notice)
}

type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Error is a shortcut for an error notice.
func Error(n Notifier, title string, err error) {
	if n == nil || err == nil {
		return
	}
	n.Notify(Notice{Level: LevelError, Title: title, Message: err.Error(), Time: time.Now()})
}

// Fail is the error exit of an operation: it logs err (validation errors excepted, they are the user's), sends
// an error notice and returns err.
func Fail(log hclog.Logger, n Notifier, title string, err error) error {
	if err == nil {
		return nil
	}
	if log != nil && !types.IsValidation(err) {
		log.Error(title, "error", err)
	}
	Error(n, title, err)
	return err
}

func Warn(n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: LevelWarning, Title: title, Message: message, Time: time.Now()})
}

func Success(n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: LevelSuccess, Title: title, Message: message, Time: time.Now()})
}

// Logger writes notices to an hclog.Logger.
type Logger struct {
	Log hclog.Logger
}

func (l Logger) Notify(n Notice) {
	switch n.Level {
	case LevelError:
		l.Log.Error(n.Title, "message", n.Message)
	case LevelWarning:
		l.Log.Warn(n.Title, "message", n.Message)
	default:
		l.Log.Info(n.Title, "message", n.Message)
	}
}

// Recorder keeps every notice, f.e. for a CLI summary or for tests.
type Recorder struct {
	notices []Notice
	sync.Mutex
}

func (r *Recorder) Notify(n Notice) {
	r.Lock()
	defer r.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.Lock()
	defer r.Unlock()
	res := make([]Notice, len(r.notices))
	copy(res, r.notices)
	return res
}

// Last returns the most recent notice and false if there is none.
func (r *Recorder) Last() (Notice, bool) {
	r.Lock()
	defer r.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

func (r *Recorder) Reset() {
	r.Lock()
	defer r.Unlock()
	r.notices = nil
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
