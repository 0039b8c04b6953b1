package models

import (
	"encoding/json"
	"testing"
)

func TestNumberUnmarshal(t *testing.T) {
	cases := []struct {
		in    string
		want  float64
		valid bool
	}{
		{`12.5`, 12.5, true},
		{`"0.00042"`, 0.00042, true},
		{`"1532.7"`, 1532.7, true},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"n/a"`, 0, false},
		{`-3`, -3, true},
		{`"NaN"`, 0, false},
		{`"Infinity"`, 0, false},
		{`"-Inf"`, 0, false},
		{`"1e999"`, 0, false},
	}
	for _, c := range cases {
		var n Number
		if err := json.Unmarshal([]byte(c.in), &n); err != nil {
			t.Fatalf("%s: unexpected error %v", c.in, err)
		}
		if n.Value != c.want || n.Valid != c.valid {
			t.Errorf("%s: got (%v, %v), want (%v, %v)", c.in, n.Value, n.Valid, c.want, c.valid)
		}
	}
}

func TestNumberInStructToleratesDrift(t *testing.T) {
	var rec struct {
		Price  Number `json:"price"`
		Change Number `json:"change"`
		Volume Number `json:"volume"`
	}
	doc := `{"price": "1.25", "change": {"h24": 3}, "volume": 10}`
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Price.Float() != 1.25 || rec.Volume.Float() != 10 {
		t.Errorf("got price=%v volume=%v", rec.Price.Float(), rec.Volume.Float())
	}
	if rec.Change.Valid || rec.Change.Ptr() != nil {
		t.Errorf("object-valued change should decode as absent, got %+v", rec.Change)
	}
}
