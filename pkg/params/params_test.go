package params

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestValueRoundTrip(t *testing.T) {
	cases := []Value{
		Int(42),
		Float(3.5),
		Bool(true),
		ListFloat([]float64{96000, 192000}),
	}

	for _, want := range cases {
		b, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("marshal %+v: %v", want, err)
		}

		var got Value
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}

		switch want.Kind() {
		case KindInt:
			if got.Kind() != KindInt || got.Int64() != want.Int64() {
				t.Errorf("int round trip: want %d got %+v", want.Int64(), got)
			}
		case KindFloat:
			if got.Kind() != KindFloat || got.Float64() != want.Float64() {
				t.Errorf("float round trip: want %v got %+v", want.Float64(), got)
			}
		case KindBool:
			if got.Kind() != KindBool || got.Bool() != want.Bool() {
				t.Errorf("bool round trip: want %v got %+v", want.Bool(), got)
			}
		case KindListFloat:
			if got.Kind() != KindListFloat || !reflect.DeepEqual(got.List(), want.List()) {
				t.Errorf("list round trip: want %v got %+v", want.List(), got)
			}
		}
	}
}

func TestValueUnmarshalRejectsNonNumericListElement(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`[1, "x"]`), &v); err == nil {
		t.Fatal("expected error for non-numeric list element")
	}
}
