package models

import "testing"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123 Main St", "123 main"},
		{"123 main street", "123 main"},
		{"  123   MAIN   Street. ", "123 main"},
		{"The Willows Court", "willows"},
		{"12 Elm St Apt 4", "12 elm st"},
		{"12 Elm Rd #4B", "12 elm rd"},
		{"77 Pine Blvd, Unit C", "77 pine blvd"},
		{"9 Harbor Way", "9 harbor"},
		{"456 Oak Ave, Sacramento, CA", "456 oak ave, sacramento, ca"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeAddressOnlyStripsTrailingSuffix(t *testing.T) {
	// "st" in the middle of the string is part of the street name.
	if got := NormalizeAddress("1 St Helena Dr"); got != "1 st helena" {
		t.Errorf("NormalizeAddress = %q; want %q", got, "1 st helena")
	}
}

func TestParseCity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"456 Oak Ave, Sacramento, CA", "Sacramento"},
		{"1 Elm St,  Roseville , CA 95678", "Roseville"},
		{"1 Elm St", ""},
	}
	for _, tt := range tests {
		if got := ParseCity(tt.in); got != tt.want {
			t.Errorf("ParseCity(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestPropertyRecordValid(t *testing.T) {
	tests := []struct {
		name string
		rec  *PropertyRecord
		want bool
	}{
		{"nil", nil, false},
		{"address only", &PropertyRecord{Address: "123 Main St"}, false},
		{"price only", &PropertyRecord{Price: "450000"}, false},
		{"address and price", &PropertyRecord{Address: "123 Main St", Price: "450000"}, true},
		{"address and mls", &PropertyRecord{Address: "123 Main St", MLSID: "X1"}, true},
		{"address and beds", &PropertyRecord{Address: "123 Main St", Beds: "3"}, true},
		{"address and baths", &PropertyRecord{Address: "123 Main St", Baths: "2"}, false},
	}
	for _, tt := range tests {
		if got := tt.rec.Valid(); got != tt.want {
			t.Errorf("%s: Valid() = %v; want %v", tt.name, got, tt.want)
		}
	}
}
