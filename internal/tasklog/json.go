// SPDX-License-Identifier: Apache-2.0

package tasklog

import (
	"bytes"
	"fmt"
	"math"

	"github.com/adiadia/task-timeline/internal/domain"
	"github.com/valyala/fastjson"
)

var parserPool fastjson.ParserPool

// DecodeJSON decodes events from either a JSON array of objects or
// newline-delimited objects:
//
//	{"time":12.5,"tid":3,"label":"foo","addr":"0x10","state":"executing"}
//
// Objects with missing or mistyped fields are skipped and counted.
func DecodeJSON(data []byte) ([]domain.Event, ScanStats, error) {
	var stats ScanStats

	p := parserPool.Get()
	defer parserPool.Put(p)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, stats, nil
	}

	events := make([]domain.Event, 0, 64)
	collect := func(v *fastjson.Value) {
		stats.Lines++
		ev, ok := eventFromValue(v)
		if !ok {
			stats.Skipped++
			return
		}
		stats.Matched++
		events = append(events, ev)
	}

	if trimmed[0] == '[' {
		v, err := p.ParseBytes(trimmed)
		if err != nil {
			return nil, stats, fmt.Errorf("parse json events: %w", err)
		}
		items, err := v.Array()
		if err != nil {
			return nil, stats, fmt.Errorf("parse json events: %w", err)
		}
		for _, item := range items {
			collect(item)
		}
		return events, stats, nil
	}

	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		v, err := p.ParseBytes(line)
		if err != nil {
			stats.Lines++
			stats.Skipped++
			continue
		}
		collect(v)
	}

	return events, stats, nil
}

func eventFromValue(v *fastjson.Value) (domain.Event, bool) {
	if v == nil || v.Type() != fastjson.TypeObject {
		return domain.Event{}, false
	}

	tv := v.Get("time")
	if tv == nil || tv.Type() != fastjson.TypeNumber {
		return domain.Event{}, false
	}
	t, err := tv.Float64()
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		return domain.Event{}, false
	}

	idv := v.Get("tid")
	if idv == nil || idv.Type() != fastjson.TypeNumber {
		return domain.Event{}, false
	}
	tid, err := idv.Int()
	if err != nil {
		return domain.Event{}, false
	}

	label := v.GetStringBytes("label")
	addr := v.GetStringBytes("addr")
	state := v.GetStringBytes("state")
	if len(label) == 0 || len(addr) == 0 || len(state) == 0 {
		return domain.Event{}, false
	}

	return domain.Event{
		Time:  t,
		TID:   tid,
		Label: string(label),
		Addr:  string(addr),
		State: domain.NormalizeState(string(state)),
	}, true
}
