package watcher

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/qzavyer/HyperNodeServer/pkg/config"
	"github.com/qzavyer/HyperNodeServer/pkg/order"
)

// envelope is the node_order_statuses line shape. Book mutations arrive as
// raw_book_diff, either an object ({"new":{"sz":...}} on placement,
// {"update":{"newSz":...}} on resize) or the bare string "remove" on cancel.
// Fill and trigger events omit raw_book_diff and carry a terminal status
// instead. px and sz are high-precision decimal strings; converting them to
// float64 rounds at IEEE754 precision, which is an accepted limitation.
type envelope struct {
	User        string          `json:"user"`
	Oid         num             `json:"oid"`
	Coin        string          `json:"coin"`
	Side        string          `json:"side"`
	Px          num             `json:"px"`
	Time        string          `json:"time"`
	Status      string          `json:"status"`
	RawBookDiff json.RawMessage `json:"raw_book_diff"`
}

type bookDiff struct {
	New *struct {
		Sz num `json:"sz"`
	} `json:"new"`
	Update *struct {
		NewSz num `json:"newSz"`
	} `json:"update"`
}

// num accepts both JSON numbers and quoted decimal strings; the node emits
// oid as a number but px and sz as strings.
type num string

func (n *num) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = num(s)
		return nil
	}
	*n = num(b)
	return nil
}

// Extractor parses one decoded line into zero or one order record. It never
// returns an error to the caller: malformed JSON, missing fields, unknown
// symbols and filter rejections all yield ok=false and are tallied by the
// caller for observability. Stateless per call, safe under the worker pool.
type Extractor struct{}

func (Extractor) Extract(line string, filters config.Filters) (order.Order, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return order.Order{}, false
	}
	if env.User == "" || env.Oid == "" || env.Coin == "" || env.Side == "" || env.Px == "" {
		return order.Order{}, false
	}

	side, err := order.ParseSide(env.Side)
	if err != nil {
		return order.Order{}, false
	}
	owner, err := order.NormalizeOwner(env.User)
	if err != nil {
		return order.Order{}, false
	}
	price, err := parsePositive(env.Px)
	if err != nil {
		return order.Order{}, false
	}

	status, size, ok := resolveEvent(env)
	if !ok {
		return order.Order{}, false
	}

	if !filters.Accepts(env.Coin, price, size) {
		return order.Order{}, false
	}

	return order.Order{
		ID:        string(env.Oid),
		Symbol:    env.Coin,
		Side:      side,
		Price:     price,
		Size:      size,
		Owner:     owner,
		Timestamp: parseTime(env.Time),
		Status:    status,
	}, true
}

// resolveEvent distinguishes the four event shapes and maps each to a status.
func resolveEvent(env envelope) (order.Status, float64, bool) {
	if len(env.RawBookDiff) > 0 {
		var removed string
		if err := json.Unmarshal(env.RawBookDiff, &removed); err == nil {
			if removed != "remove" {
				return "", 0, false
			}
			return order.StatusCancelled, 0, true
		}

		var diff bookDiff
		if err := json.Unmarshal(env.RawBookDiff, &diff); err != nil {
			return "", 0, false
		}
		switch {
		case diff.New != nil:
			size, err := parseNonNegative(diff.New.Sz)
			if err != nil {
				return "", 0, false
			}
			return order.StatusOpen, size, true
		case diff.Update != nil:
			size, err := parseNonNegative(diff.Update.NewSz)
			if err != nil {
				return "", 0, false
			}
			return order.StatusOpen, size, true
		}
		return "", 0, false
	}

	if env.Status != "" {
		status, err := order.ParseStatus(env.Status)
		if err != nil {
			return "", 0, false
		}
		return status, 0, true
	}
	return "", 0, false
}

func parsePositive(n num) (float64, error) {
	v, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func parseNonNegative(n num) (float64, error) {
	v, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func parseTime(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
