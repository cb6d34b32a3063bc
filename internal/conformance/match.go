package conformance

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/sandover/plasmite-go"
)

// checkExpectedError reconciles an operation result with the step's
// error expectation. An expected typed error counts as a pass; an
// unexpected error, a missing expected error, or a kind/detail
// mismatch fails the step.
func checkExpectedError(index int, step Step, opErr error) error {
	var want *ErrorExpect
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if want == nil {
		if opErr == nil {
			return nil
		}
		return stepErrorf(index, step.ID, "unexpected error: %v", opErr)
	}
	if opErr == nil {
		return stepError(index, step.ID, "expected error but operation succeeded")
	}
	var perr *plasmite.Error
	if !errors.As(opErr, &perr) {
		return stepErrorf(index, step.ID, "unexpected error type: %v", opErr)
	}
	if want.Kind == "" {
		return stepError(index, step.ID, "expect.error.kind is required")
	}
	if got := perr.Kind.String(); want.Kind != got {
		return stepErrorf(index, step.ID, "expected error kind %s, got %s", want.Kind, got)
	}
	if want.MessageContains != nil && !strings.Contains(perr.Message, *want.MessageContains) {
		return stepErrorf(index, step.ID, "expected message to contain %q, got %q", *want.MessageContains, perr.Message)
	}
	if want.HasPath != nil && *want.HasPath != (perr.Path != "") {
		return stepError(index, step.ID, "path presence mismatch")
	}
	if want.HasSeq != nil && *want.HasSeq != (perr.Seq != nil) {
		return stepError(index, step.ID, "seq presence mismatch")
	}
	if want.HasOffset != nil && *want.HasOffset != (perr.Offset != nil) {
		return stepError(index, step.ID, "offset presence mismatch")
	}
	return nil
}

// jsonEqual compares two JSON documents structurally, so formatting
// and key order never matter.
func jsonEqual(a, b json.RawMessage) bool {
	var left, right any
	if err := json.Unmarshal(normalizeNull(a), &left); err != nil {
		return false
	}
	if err := json.Unmarshal(normalizeNull(b), &right); err != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}

func normalizeNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func checkFetchedMessage(index int, step Step, msg *plasmite.Message) error {
	if step.Expect == nil {
		return nil
	}
	if step.Expect.Data != nil && !jsonEqual(step.Expect.Data, msg.Data) {
		return stepError(index, step.ID, "data mismatch")
	}
	if step.Expect.Tags != nil && !stringSlicesEqual(*step.Expect.Tags, msg.Tags) {
		return stepError(index, step.ID, "tags mismatch")
	}
	return nil
}

// expectedMessages pulls the tail expectation out of a step. Exactly
// one of expect.messages and expect.messages_unordered must be present;
// the bool reports whether matching is ordered.
func expectedMessages(index int, step Step) ([]MessageExpect, bool, error) {
	if step.Expect == nil {
		return nil, false, stepError(index, step.ID, "missing expect")
	}
	if step.Expect.Messages != nil {
		return *step.Expect.Messages, true, nil
	}
	if step.Expect.MessagesUnordered != nil {
		return *step.Expect.MessagesUnordered, false, nil
	}
	return nil, false, stepError(index, step.ID, "expect.messages or expect.messages_unordered is required")
}

// matchTailMessages checks count, strict seq monotonicity, and then
// either element-wise or greedy first-match comparison. Monotonicity
// holds in both modes; only data/tag pairing is order-free in the
// unordered mode.
func matchTailMessages(index int, step Step, expected []MessageExpect, ordered bool, got []*plasmite.Message) error {
	if len(got) != len(expected) {
		return stepErrorf(index, step.ID, "expected %d messages, got %d", len(expected), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Seq >= got[i].Seq {
			return stepError(index, step.ID, "tail messages out of order")
		}
	}

	if ordered {
		for i, want := range expected {
			if !messageMatches(want, got[i]) {
				return stepErrorf(index, step.ID, "message %d mismatch", i)
			}
		}
		return nil
	}

	used := make([]bool, len(got))
	for _, want := range expected {
		found := false
		for i, actual := range got {
			if used[i] || !messageMatches(want, actual) {
				continue
			}
			used[i] = true
			found = true
			break
		}
		if !found {
			return stepError(index, step.ID, "message mismatch")
		}
	}
	return nil
}

func messageMatches(want MessageExpect, got *plasmite.Message) bool {
	if !jsonEqual(want.Data, got.Data) {
		return false
	}
	if want.Tags != nil && !stringSlicesEqual(*want.Tags, got.Tags) {
		return false
	}
	return true
}

func checkPoolNames(index int, step Step, names []string) error {
	if step.Expect == nil || step.Expect.Names == nil {
		return nil
	}
	expected := append([]string(nil), *step.Expect.Names...)
	actual := append([]string(nil), names...)
	sort.Strings(expected)
	sort.Strings(actual)
	if !stringSlicesEqual(expected, actual) {
		return stepError(index, step.ID, "pool list mismatch")
	}
	return nil
}

func checkPoolInfo(index int, step Step, info *PoolInfo) error {
	if step.Expect == nil {
		return nil
	}
	if step.Expect.FileSize != nil && info.FileSize != *step.Expect.FileSize {
		return stepError(index, step.ID, "file_size mismatch")
	}
	if step.Expect.RingSize != nil && info.RingSize != *step.Expect.RingSize {
		return stepError(index, step.ID, "ring_size mismatch")
	}
	if bounds := step.Expect.Bounds; bounds != nil {
		if err := checkBound(index, step, "oldest", bounds.Oldest, info.Oldest); err != nil {
			return err
		}
		if err := checkBound(index, step, "newest", bounds.Newest, info.Newest); err != nil {
			return err
		}
	}
	return nil
}

// checkBound compares one bounds field. An absent key skips the check;
// an explicit null requires the bound to be absent.
func checkBound(index int, step Step, name string, raw json.RawMessage, actual *uint64) error {
	if raw == nil {
		return nil
	}
	var expected *uint64
	if err := json.Unmarshal(raw, &expected); err != nil {
		return stepErrorf(index, step.ID, "bounds.%s must be number or null", name)
	}
	if (expected == nil) != (actual == nil) {
		return stepErrorf(index, step.ID, "bounds.%s mismatch", name)
	}
	if expected != nil && *expected != *actual {
		return stepErrorf(index, step.ID, "bounds.%s mismatch", name)
	}
	return nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
