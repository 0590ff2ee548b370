// Package history implements the History Extractor (I): it re-parses
// the packet log on demand, decodes FC03 reads and FC06 writes, and
// applies the address/time range filters of the History query surface
// (spec §6).
package history

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/commatea/modbus-sniffer/pkg/modbus"
	"github.com/commatea/modbus-sniffer/pkg/packetlog"
)

const timestampLayout = "2006-01-02 15:04:05"
const maxRows = 1000

// ReadRow is one FC03 register observation recovered from the log.
type ReadRow struct {
	Timestamp string
	Address   uint16
	Value     uint16
}

// WriteRow is one FC06 single-register write recovered from the log.
// Direction is best-effort: the original payload carries no direction
// bit, so a write is labelled "response" only when it immediately
// echoes the (register, value) of the prior "request" row within the
// same log line.
type WriteRow struct {
	Timestamp string
	Register  uint16
	Value     uint16
	Direction string // "request" or "response"
}

// AddressStat is the per-address aggregate the History Extractor
// produces alongside the filtered rows.
type AddressStat struct {
	Address uint16
	Count   int
	Min     uint16
	Max     uint16
}

// Filters are the four optional range bounds named in spec §6, already
// parsed. An inverted range is swapped by ParseFilters, which also
// returns the user-visible notice for that swap.
type Filters struct {
	StartAddr *uint16
	EndAddr   *uint16
	StartTime *time.Time
	EndTime   *time.Time
}

// ParseAddress accepts plain decimal or a "0x"-prefixed hex string, as
// the configuration surface and the history query surface both do.
func ParseAddress(raw string) (uint16, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	base := 10
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		base = 16
		raw = raw[2:]
	}
	v, err := strconv.ParseUint(raw, base, 32)
	if err != nil || v > 0xFFFF {
		return 0, false
	}
	return uint16(v), true
}

// ParseFilters builds a Filters from the four optional raw query
// values, swapping any inverted range and returning a notice for each
// swap performed, matching prepare_history_filters in the original
// implementation.
func ParseFilters(startAddrRaw, endAddrRaw, startTSRaw, endTSRaw string) (Filters, []string) {
	var notes []string
	var f Filters

	if v, ok := ParseAddress(startAddrRaw); ok {
		f.StartAddr = &v
	}
	if v, ok := ParseAddress(endAddrRaw); ok {
		f.EndAddr = &v
	}
	if f.StartAddr != nil && f.EndAddr != nil && *f.EndAddr < *f.StartAddr {
		f.StartAddr, f.EndAddr = f.EndAddr, f.StartAddr
		notes = append(notes, "address range inverted: bounds swapped")
	}

	if t, ok := parseTimestamp(startTSRaw); ok {
		f.StartTime = &t
	}
	if t, ok := parseTimestamp(endTSRaw); ok {
		f.EndTime = &t
	}
	if f.StartTime != nil && f.EndTime != nil && f.EndTime.Before(*f.StartTime) {
		f.StartTime, f.EndTime = f.EndTime, f.StartTime
		notes = append(notes, "time range inverted: bounds swapped")
	}

	return f, notes
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// extractReads decodes every FC03 frame in entries into ReadRows,
// carrying the base address of the most recent request within the same
// log line forward onto the response that follows it, exactly as the
// reference extractor does.
func extractReads(entries []packetlog.Entry) []ReadRow {
	var rows []ReadRow
	for _, entry := range entries {
		if len(entry.Payload) == 0 {
			continue
		}
		frames, _, _ := modbus.Split(entry.Payload)
		var pendingStart uint16
		havePending := false
		for _, frame := range frames {
			if frame.FunctionCode() != modbus.FuncReadHoldingRegisters || frame.IsException() {
				continue
			}
			d := modbus.Decode(frame)
			if d.Type == modbus.FrameRequest {
				pendingStart = d.StartAddress
				havePending = true
				continue
			}
			if d.Type != modbus.FrameResponse || len(d.RegisterVals) == 0 {
				continue
			}
			base := uint16(0)
			if havePending {
				base = pendingStart
			}
			for i, v := range d.RegisterVals {
				rows = append(rows, ReadRow{Timestamp: entry.Timestamp, Address: base + uint16(i), Value: v})
			}
			havePending = false
		}
	}
	return rows
}

// extractWrites decodes every FC06 frame in entries into WriteRows.
func extractWrites(entries []packetlog.Entry) []WriteRow {
	var rows []WriteRow
	for _, entry := range entries {
		if len(entry.Payload) == 0 {
			continue
		}
		frames, _, _ := modbus.Split(entry.Payload)
		var pending *WriteRow
		for _, frame := range frames {
			if frame.FunctionCode() != modbus.FuncWriteSingleRegister || frame.IsException() {
				continue
			}
			d := modbus.Decode(frame)
			if d.Type != modbus.FrameRequest {
				continue
			}
			direction := "request"
			if pending != nil && pending.Register == d.WriteAddress && pending.Value == d.WriteValue {
				direction = "response"
				pending = nil
			} else {
				row := WriteRow{Register: d.WriteAddress, Value: d.WriteValue}
				pending = &row
			}
			rows = append(rows, WriteRow{
				Timestamp: entry.Timestamp,
				Register:  d.WriteAddress,
				Value:     d.WriteValue,
				Direction: direction,
			})
		}
	}
	return rows
}

// ReadResult is the response shape for the FC03 history endpoint.
type ReadResult struct {
	Rows    []ReadRow
	Stats   []AddressStat
	Notes   []string
	Dropped int // rows matching the filter but truncated beyond maxRows
}

// QueryReads loads path, decodes FC03 rows, applies filters (most
// recent first, truncated to 1000 rows) and computes per-address
// aggregate statistics over the full filtered set (not just the
// truncated page).
func QueryReads(path string, f Filters) (ReadResult, error) {
	entries, err := packetlog.ReadAll(path)
	if err != nil {
		return ReadResult{}, err
	}

	all := extractReads(reverseEntries(entries))

	var filtered []ReadRow
	for _, row := range all {
		if !addressInRange(row.Address, f.StartAddr, f.EndAddr) {
			continue
		}
		ts, ok := parseTimestamp(row.Timestamp)
		if !timeInRange(ts, ok, f.StartTime, f.EndTime) {
			continue
		}
		filtered = append(filtered, row)
	}

	stats := aggregateReads(filtered)

	result := ReadResult{Stats: stats}
	if len(filtered) > maxRows {
		result.Dropped = len(filtered) - maxRows
		result.Rows = filtered[:maxRows]
	} else {
		result.Rows = filtered
	}
	return result, nil
}

// WriteResult is the response shape for the FC06 history endpoint.
type WriteResult struct {
	Rows    []WriteRow
	Dropped int
}

// QueryWrites loads path, decodes FC06 rows and applies the same
// address/time filters as QueryReads.
func QueryWrites(path string, f Filters) (WriteResult, error) {
	entries, err := packetlog.ReadAll(path)
	if err != nil {
		return WriteResult{}, err
	}

	all := extractWrites(reverseEntries(entries))

	var filtered []WriteRow
	for _, row := range all {
		if !addressInRange(row.Register, f.StartAddr, f.EndAddr) {
			continue
		}
		ts, ok := parseTimestamp(row.Timestamp)
		if !timeInRange(ts, ok, f.StartTime, f.EndTime) {
			continue
		}
		filtered = append(filtered, row)
	}

	result := WriteResult{}
	if len(filtered) > maxRows {
		result.Dropped = len(filtered) - maxRows
		result.Rows = filtered[:maxRows]
	} else {
		result.Rows = filtered
	}
	return result, nil
}

func addressInRange(addr uint16, start, end *uint16) bool {
	if start != nil && addr < *start {
		return false
	}
	if end != nil && addr > *end {
		return false
	}
	return true
}

func timeInRange(ts time.Time, parsed bool, start, end *time.Time) bool {
	if start != nil {
		if !parsed || ts.Before(*start) {
			return false
		}
	}
	if end != nil {
		if !parsed || ts.After(*end) {
			return false
		}
	}
	return true
}

func aggregateReads(rows []ReadRow) []AddressStat {
	byAddr := make(map[uint16]*AddressStat)
	for _, row := range rows {
		stat, ok := byAddr[row.Address]
		if !ok {
			stat = &AddressStat{Address: row.Address, Min: row.Value, Max: row.Value}
			byAddr[row.Address] = stat
		}
		stat.Count++
		if row.Value < stat.Min {
			stat.Min = row.Value
		}
		if row.Value > stat.Max {
			stat.Max = row.Value
		}
	}
	out := make([]AddressStat, 0, len(byAddr))
	for _, stat := range byAddr {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// reverseEntries returns entries in reverse order so the most recent
// log line is extracted first, while preserving each entry's internal
// frame order, matching the original's extract_fc03_reads(reversed(entries)).
func reverseEntries(entries []packetlog.Entry) []packetlog.Entry {
	out := make([]packetlog.Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
