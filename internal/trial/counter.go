package trial

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "20060102"

// Counter mirrors the counter file on disk.
type Counter struct {
	CurrentDate       *string  `json:"current_date"`
	ProtocolNoCounter DayCount `json:"protocol_no_counter"`
	ProtocolIDCounter int      `json:"protocol_id_counter"`
	ProtocolNo        string   `json:"protocol_no,omitempty"`

	// Extra holds any other keys in the file so Save writes them back.
	Extra map[string]json.RawMessage `json:"-"`
}

type counterFields Counter

var counterKeys = []string{"current_date", "protocol_no_counter", "protocol_id_counter", "protocol_no"}

// UnmarshalJSON reads the known fields and keeps the rest in Extra.
func (c *Counter) UnmarshalJSON(data []byte) error {
	var fields counterFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range counterKeys {
		delete(all, key)
	}
	fields.Extra = nil
	if len(all) > 0 {
		fields.Extra = all
	}
	*c = Counter(fields)
	return nil
}

// MarshalJSON writes the known fields first, then Extra in key order.
func (c Counter) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(counterFields(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return data, nil
	}
	keys := make([]string, 0, len(c.Extra))
	for key := range c.Extra {
		if !slices.Contains(counterKeys, key) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	buf := bytes.NewBuffer(data[:len(data)-1])
	for _, key := range keys {
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(c.Extra[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DayCount is the per-day counter. It is stored as a two-digit string but
// plain numbers are accepted when reading.
type DayCount int

func (d DayCount) String() string { return fmt.Sprintf("%02d", int(d)) }

// MarshalJSON writes the zero-padded form.
func (d DayCount) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "07", 7 and null.
func (d *DayCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*d = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("protocol_no_counter %q: %w", raw, err)
	}
	*d = DayCount(value)
	return nil
}

// Advance returns the counter for the next trial. The day counter resets to
// 00 when the stored date is missing or not today.
func Advance(c Counter, now time.Time) Counter {
	today := now.Format(dateLayout)
	next := c.ProtocolNoCounter + 1
	if c.CurrentDate == nil || *c.CurrentDate != today {
		next = 0
	}
	c.CurrentDate = &today
	c.ProtocolNoCounter = next
	c.ProtocolNo = today + next.String()
	c.ProtocolIDCounter++
	return c
}

// Stamp writes the allocated identifiers into doc. Keys the document does
// not already carry are left absent.
func Stamp(doc map[string]any, c Counter) {
	if _, ok := doc["protocol_id"]; ok {
		doc["protocol_id"] = c.ProtocolIDCounter
	}
	if _, ok := doc["protocol_no"]; ok && c.ProtocolNo != "" {
		doc["protocol_no"] = c.ProtocolNo
	}
}

// CounterStore reads and writes the counter file.
type CounterStore struct {
	Path string
}

// Load reads the counter file.
func (s CounterStore) Load() (Counter, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Counter{}, fmt.Errorf("env config path %s not found", s.Path)
		}
		return Counter{}, fmt.Errorf("read env config: %w", err)
	}
	var c Counter
	if err := json.Unmarshal(data, &c); err != nil {
		return Counter{}, fmt.Errorf("parse env config %s: %w", s.Path, err)
	}
	return c, nil
}

// Save rewrites the counter file with four-space indentation.
func (s CounterStore) Save(c Counter) error {
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("encode env config: %w", err)
	}
	data = append(data, '\n')
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write env config: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace env config: %w", err)
	}
	return nil
}
