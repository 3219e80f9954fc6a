// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlmode

import (
	"fmt"
	"strconv"
)

// ParseLayout decodes a tmux window layout string such as
//
//	bb89,160x48,0,0[160x24,0,0,3,160x23,0,25{80x23,0,25,4,79x23,81,25,5}]
//
// into the geometry of its leaf panes, in layout order. The leading
// four hex digits are tmux's checksum of the remainder and are
// verified. A cell is "WxH,X,Y" followed by ",id" for a leaf,
// "{...}" for a left-right split, or "[...]" for a top-bottom split.
func ParseLayout(layout string) ([]PaneGeometry, error) {
	if len(layout) < 6 || layout[4] != ',' {
		return nil, fmt.Errorf("layout %q: missing checksum", layout)
	}
	want, err := strconv.ParseUint(layout[:4], 16, 16)
	if err != nil {
		return nil, fmt.Errorf("layout %q: invalid checksum: %w", layout, err)
	}
	body := layout[5:]
	if got := LayoutChecksum(body); got != uint16(want) {
		return nil, fmt.Errorf("layout %q: checksum %04x does not match %04x", layout, got, want)
	}

	parser := layoutParser{input: body}
	panes, err := parser.cell(nil)
	if err != nil {
		return nil, fmt.Errorf("layout %q: %w", layout, err)
	}
	if parser.position != len(body) {
		return nil, fmt.Errorf("layout %q: trailing data at offset %d", layout, parser.position)
	}
	return panes, nil
}

// LayoutChecksum computes tmux's 16-bit layout checksum: a rotate right
// by one bit followed by adding each byte.
func LayoutChecksum(body string) uint16 {
	var checksum uint16
	for index := 0; index < len(body); index++ {
		checksum = checksum>>1 | checksum<<15
		checksum += uint16(body[index])
	}
	return checksum
}

type layoutParser struct {
	input    string
	position int
}

func (parser *layoutParser) cell(panes []PaneGeometry) ([]PaneGeometry, error) {
	cols, err := parser.number()
	if err != nil {
		return nil, err
	}
	if err := parser.expect('x'); err != nil {
		return nil, err
	}
	rows, err := parser.number()
	if err != nil {
		return nil, err
	}
	if err := parser.expect(','); err != nil {
		return nil, err
	}
	x, err := parser.number()
	if err != nil {
		return nil, err
	}
	if err := parser.expect(','); err != nil {
		return nil, err
	}
	y, err := parser.number()
	if err != nil {
		return nil, err
	}

	switch parser.peek() {
	case '{':
		return parser.children('}', panes)
	case '[':
		return parser.children(']', panes)
	case ',':
		parser.position++
		id, err := parser.number()
		if err != nil {
			return nil, err
		}
		return append(panes, PaneGeometry{Pane: PaneID(id), Cols: cols, Rows: rows, X: x, Y: y}), nil
	}
	return nil, fmt.Errorf("offset %d: expected pane id or split", parser.position)
}

func (parser *layoutParser) children(closing byte, panes []PaneGeometry) ([]PaneGeometry, error) {
	parser.position++
	for {
		var err error
		panes, err = parser.cell(panes)
		if err != nil {
			return nil, err
		}
		switch parser.peek() {
		case ',':
			parser.position++
		case closing:
			parser.position++
			return panes, nil
		default:
			return nil, fmt.Errorf("offset %d: expected ',' or %q", parser.position, closing)
		}
	}
}

func (parser *layoutParser) number() (int, error) {
	start := parser.position
	for parser.position < len(parser.input) {
		current := parser.input[parser.position]
		if current < '0' || current > '9' {
			break
		}
		parser.position++
	}
	if start == parser.position {
		return 0, fmt.Errorf("offset %d: expected number", start)
	}
	return strconv.Atoi(parser.input[start:parser.position])
}

func (parser *layoutParser) expect(want byte) error {
	if parser.peek() != want {
		return fmt.Errorf("offset %d: expected %q", parser.position, want)
	}
	parser.position++
	return nil
}

func (parser *layoutParser) peek() byte {
	if parser.position >= len(parser.input) {
		return 0
	}
	return parser.input[parser.position]
}
