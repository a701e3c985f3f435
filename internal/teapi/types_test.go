package teapi

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDateUnmarshal(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string // Date.String() after decode
		wantErr bool
	}{
		{name: "date only", in: `"2024-03-31"`, want: "2024-03-31"},
		{name: "datetime no zone", in: `"2024-03-31T00:00:00"`, want: "2024-03-31"},
		{name: "rfc3339", in: `"2024-03-31T00:00:00Z"`, want: "2024-03-31"},
		{name: "null", in: `null`, want: ""},
		{name: "empty string", in: `""`, want: ""},
		{name: "blank string", in: `"   "`, want: ""},
		{name: "garbage", in: `"not-a-date"`, wantErr: true},
		{name: "number", in: `20240331`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d Date
			err := json.Unmarshal([]byte(tc.in), &d)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s): want error, got %q", tc.in, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s): %v", tc.in, err)
			}
			if d.String() != tc.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tc.in, d, tc.want)
			}
		})
	}
}

func TestDateMarshal_DateOnlyOrNull(t *testing.T) {
	var zero Date
	b, err := json.Marshal(zero)
	if err != nil {
		t.Fatalf("Marshal zero: %v", err)
	}
	if string(b) != "null" {
		t.Errorf("Marshal zero = %s, want null", b)
	}

	var d Date
	if err := json.Unmarshal([]byte(`"2024-03-31T09:30:00Z"`), &d); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	b, err = json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"2024-03-31"` {
		t.Errorf("Marshal = %s, want date-only form", b)
	}
}

func TestDecodeObservations_NullValueIsLegal(t *testing.T) {
	raw := []byte(`[{"Country":"Sweden","Category":"GDP","DateTime":"2024-03-31","Value":null}]`)
	items, err := decodeObservations(raw)
	if err != nil {
		t.Fatalf("decodeObservations: %v", err)
	}
	if len(items) != 1 || items[0].Value != nil {
		t.Errorf("items = %+v, want one row with nil Value", items)
	}
}

func TestDecodeObservations_MissingDateTimeRejected(t *testing.T) {
	raw := []byte(`[{"Country":"Sweden","Category":"GDP","Value":1.5}]`)
	_, err := decodeObservations(raw)
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ShapeError", err)
	}
}

func TestDecodeIndicatorMeta_MissingCategoryRejected(t *testing.T) {
	raw := []byte(`[{"Category":"GDP"},{"Category":"  "}]`)
	_, err := decodeIndicatorMeta(raw)
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ShapeError", err)
	}
}
