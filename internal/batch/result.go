package batch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSearchInputNotFound = errors.New("search input not found")
	ErrRowNotFound         = errors.New("row not found")
	ErrTransient           = errors.New("automation error")
	ErrInterrupted         = errors.New("batch interrupted")
)

// ExamID identifies one exam record in the portal.
type ExamID int

func (id ExamID) String() string {
	return fmt.Sprintf("%d", int(id))
}

// Status classifies how processing one exam ended.
type Status int

const (
	StatusSuccess Status = iota
	StatusSearchInputNotFound
	StatusRowNotFound
	StatusTransientError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSearchInputNotFound:
		return "search input not found"
	case StatusRowNotFound:
		return "row not found"
	case StatusTransientError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the final verdict for one exam.
type Outcome struct {
	Status  Status
	Message string
}

// OK reports whether the exam was opened.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Err maps a failed outcome onto its sentinel error. It is nil on success.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusSearchInputNotFound:
		return ErrSearchInputNotFound
	case StatusRowNotFound:
		return ErrRowNotFound
	default:
		return fmt.Errorf("%w: %s", ErrTransient, o.Message)
	}
}

func (o Outcome) String() string {
	if o.Message == "" {
		return o.Status.String()
	}
	return o.Status.String() + ": " + o.Message
}

func transient(err error) Outcome {
	return Outcome{Status: StatusTransientError, Message: err.Error()}
}

// Result partitions processed exams into succeeded and failed, both in
// processing order.
type Result struct {
	Succeeded []ExamID          `json:"succeeded"`
	Failed    []ExamID          `json:"failed"`
	Failures  map[ExamID]string `json:"failures,omitempty"`
}

// Record files id under exactly one of the two lists.
func (r *Result) Record(id ExamID, out Outcome) {
	if out.OK() {
		r.Succeeded = append(r.Succeeded, id)
		return
	}
	r.Failed = append(r.Failed, id)
	if r.Failures == nil {
		r.Failures = make(map[ExamID]string)
	}
	r.Failures[id] = out.String()
}

// Processed counts exams recorded so far.
func (r Result) Processed() int {
	return len(r.Succeeded) + len(r.Failed)
}

// Summary renders a deterministic report for a batch of total exams.
func (r Result) Summary(total int) string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "  Done! Opened %d/%d exams\n", len(r.Succeeded), total)
	fmt.Fprintf(&b, "  Success: %s\n", joinIDs(r.Succeeded))
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "  Failed: %s\n", joinIDs(r.Failed))
		for _, id := range r.Failed {
			fmt.Fprintf(&b, "    %d: %s\n", int(id), r.Failures[id])
		}
	}
	fmt.Fprintln(&b, line)
	return b.String()
}

func joinIDs(ids []ExamID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
