package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult summarizes a chain walk.
type VerifyResult struct {
	Entries    int
	FirstBreak int // 1-based line number of the first broken link, 0 if intact
}

// Intact reports whether the whole chain verified.
func (r VerifyResult) Intact() bool {
	return r.FirstBreak == 0
}

// Verify re-walks the hash chain of an audit log from genesis.
func Verify(path string) (VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	result := VerifyResult{}
	expected := GenesisHash

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			result.FirstBreak = lineNo
			return result, nil
		}
		if entry.PrevHash != expected {
			result.FirstBreak = lineNo
			return result, nil
		}
		expected = HashLine(line)
		result.Entries++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("audit: scan log: %w", err)
	}
	return result, nil
}

// Read returns all entries from an audit log in order, skipping unparsable
// lines.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return entries, nil
}

// Summary aggregates an audit log for the replay command.
type Summary struct {
	Entries      int
	Actions      int
	NoActions    int
	MinFreq      int
	Escalations  int
	TotalNRV     float64
	ByActionType map[string]int
}

// Summarize folds the log into per-decision counts.
func Summarize(entries []Entry) Summary {
	s := Summary{ByActionType: make(map[string]int)}
	for _, e := range entries {
		s.Entries++
		if e.Decision == "action" {
			s.Actions++
			s.TotalNRV += e.NRV
			if e.Option != nil {
				s.ByActionType[e.Option.Type.String()]++
			}
		} else {
			s.NoActions++
		}
		if e.MinFreqTriggered {
			s.MinFreq++
		}
		if e.GuardrailOutcome == "requires_approval" {
			s.Escalations++
		}
	}
	return s
}
