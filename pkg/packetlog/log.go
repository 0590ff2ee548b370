// Package packetlog implements the append-only packet log (H): every
// inbound payload is recorded as one CSV line so the History Extractor
// can later replay it.
package packetlog

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Entry is one parsed log line: an arrival timestamp and the raw bytes
// captured at that moment.
type Entry struct {
	Timestamp string // kept as text; History filters parse it lazily
	Payload   []byte
}

// Log is an append-only CSV packet log. Every write opens, appends, and
// closes the file so a crash mid-write never corrupts previously
// written lines; a single mutex serialises writers.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New returns a Log that appends to path.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Append writes one line: "YYYY-MM-DD HH:MM:SS,<hex_payload>\n". The hex
// payload is written unspaced and uppercase.
func (l *Log) Append(payload []byte) error {
	line := fmt.Sprintf("%s,%s\n", l.now().Format(timestampLayout), strings.ToUpper(hex.EncodeToString(payload)))

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("packetlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("packetlog: write %s: %w", l.path, err)
	}
	return nil
}

// ReadAll parses every line of the log into Entries, skipping malformed
// lines (no comma, or an undecodable hex payload) rather than failing
// the whole read.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("packetlog: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ',')
		if idx < 0 {
			continue
		}
		ts := line[:idx]
		hexPart := strings.Join(strings.Fields(line[idx+1:]), "")
		if hexPart == "" {
			entries = append(entries, Entry{Timestamp: ts})
			continue
		}
		payload, err := hex.DecodeString(hexPart)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Timestamp: ts, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("packetlog: scan %s: %w", path, err)
	}
	return entries, nil
}
