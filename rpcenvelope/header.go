package rpcenvelope

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrProtocol is returned for any malformed header block: bad line
// syntax, missing blank-line terminator, or a Content-length that
// does not match the bytes actually available.
var ErrProtocol = errors.New("rpcenvelope: protocol error")

// abbrevKind distinguishes the three short-form shapes in spec.md §6's
// table: a bare-letter replacement for the header name ("c" for
// "Cseq", still written as "name: value"), a prefix that the value is
// appended to directly with no further separator ("C:" for
// "C-access", written as "C:value"), and a self-contained literal
// flag token that already carries its fixed value ("CR:1" for
// "C-access-req", always written verbatim when the header is set).
type abbrevKind int

const (
	abbrevName abbrevKind = iota
	abbrevPrefix
	abbrevLiteral
)

type abbrev struct {
	short string
	kind  abbrevKind
}

var longToShort = map[string]abbrev{
	"Cseq":           {"c", abbrevName},
	"Content-length": {"l", abbrevName},
	"Status":         {"s", abbrevName},
	"Status-message": {"m", abbrevName},
	"C-access":       {"C:", abbrevPrefix},
	"C-access-req":   {"CR:1", abbrevLiteral},
	"CS-access-req":  {"SR:1", abbrevLiteral},
	"Subject-id":     {"I:", abbrevPrefix},
}

var shortNameToLong = map[string]string{}    // "c" -> "Cseq"
var shortPrefixToLong = map[string]string{}  // "C:" -> "C-access"
var shortLiteralToLong = map[string]string{} // "CR:1" -> "C-access-req"

func init() {
	for long, ab := range longToShort {
		switch ab.kind {
		case abbrevName:
			shortNameToLong[ab.short] = long
		case abbrevPrefix:
			shortPrefixToLong[ab.short] = long
		case abbrevLiteral:
			shortLiteralToLong[ab.short] = long
		}
	}
}

// Header is an ordered property bag: token -> raw value, preserving
// the order headers arrived on the wire so re-emission is stable.
type Header struct {
	keys   []string
	values map[string]string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// Set assigns a value to a (long-form) header name, appending it to
// the ordered key list on first use.
func (h *Header) Set(name, value string) {
	if _, ok := h.values[name]; !ok {
		h.keys = append(h.keys, name)
	}
	h.values[name] = value
}

// Get returns a header's value and whether it was present.
func (h *Header) Get(name string) (string, bool) {
	v, ok := h.values[name]
	return v, ok
}

// GetInt parses a header's value as a base-10 integer.
func (h *Header) GetInt(name string) (int64, bool, error) {
	v, ok := h.values[name]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, true, err
}

// Names returns the header names in arrival order.
func (h *Header) Names() []string {
	return h.keys
}

// WriteTo serializes the header block in long form, CRLF-terminated,
// ended by a blank line.
func (h *Header) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range h.keys {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, h.values[name]); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteToShort serializes the header block using the short-form
// shapes from spec.md §6 where one is defined, falling back to long
// form for anything the table does not cover.
func (h *Header) WriteToShort(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range h.keys {
		value := h.values[name]
		ab, ok := longToShort[name]
		if !ok {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, value); err != nil {
				return err
			}
			continue
		}
		var line string
		switch ab.kind {
		case abbrevName:
			line = fmt.Sprintf("%s: %s", ab.short, value)
		case abbrevPrefix:
			line = ab.short + value
		case abbrevLiteral:
			line = ab.short
		}
		if _, err := fmt.Fprintf(bw, "%s\r\n", line); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadHeader parses a CRLF-terminated header block from r, stopping
// at the first blank line. Both short-form and long-form header
// lines are accepted and normalized to long-form names in the result.
func ReadHeader(r *bufio.Reader) (*Header, error) {
	h := NewHeader()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: reading header line: %v", ErrProtocol, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return h, nil
		}
		name, value, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		h.Set(name, value)
	}
}

func parseHeaderLine(line string) (name, value string, err error) {
	if long, ok := shortLiteralToLong[line]; ok {
		short := longToShort[long].short
		return long, short[strings.Index(short, ":")+1:], nil
	}
	for short, long := range shortPrefixToLong {
		if strings.HasPrefix(line, short) {
			return long, strings.TrimPrefix(line, short), nil
		}
	}

	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("%w: header line %q has no ':'", ErrProtocol, line)
	}
	name = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if name == "" {
		return "", "", fmt.Errorf("%w: header line %q has empty name", ErrProtocol, line)
	}
	if long, ok := shortNameToLong[name]; ok {
		name = long
	}
	return name, value, nil
}
