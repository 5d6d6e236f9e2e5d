// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jcodagnone/geoconv/geoconv"
)

// positionMessage is the JSON form of a position on the wire.
type positionMessage struct {
	ID        int64     `json:"id,omitempty"`
	DeviceID  int64     `json:"device_id"`
	FixTime   time.Time `json:"fix_time,omitzero"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
}

func decodePosition(data []byte) (geoconv.RawPosition, error) {
	var msg positionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return geoconv.RawPosition{}, fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}

	if msg.Latitude == nil || msg.Longitude == nil {
		return geoconv.RawPosition{}, fmt.Errorf("%w: %w", ErrInvalidPosition, errors.New("missing coordinates"))
	}

	return geoconv.RawPosition{
		ID:        msg.ID,
		DeviceID:  msg.DeviceID,
		FixTime:   msg.FixTime,
		Latitude:  *msg.Latitude,
		Longitude: *msg.Longitude,
	}, nil
}

func encodePosition(pos geoconv.RawPosition) ([]byte, error) {
	return json.Marshal(positionMessage{
		ID:        pos.ID,
		DeviceID:  pos.DeviceID,
		FixTime:   pos.FixTime,
		Latitude:  &pos.Latitude,
		Longitude: &pos.Longitude,
	})
}

// ReadPositions reads positions encoded as a JSON array or as one JSON object
// per line.
func ReadPositions(r io.Reader) ([]geoconv.RawPosition, error) {
	br := bufio.NewReader(r)

	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)

	var raw []json.RawMessage

	if first == '[' {
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding positions: %w", err)
		}
	} else {
		for {
			var msg json.RawMessage

			err := dec.Decode(&msg)
			if errors.Is(err, io.EOF) {
				break
			}

			if err != nil {
				return nil, fmt.Errorf("decoding position %d: %w", len(raw)+1, err)
			}

			raw = append(raw, msg)
		}
	}

	positions := make([]geoconv.RawPosition, 0, len(raw))

	for i, msg := range raw {
		pos, err := decodePosition(msg)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i+1, err)
		}

		positions = append(positions, pos)
	}

	return positions, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}

		if len(bytes.TrimSpace([]byte{b})) > 0 {
			return b, br.UnreadByte()
		}
	}
}
