package core

import "testing"

func TestBounds_Center(t *testing.T) {
	tests := []struct {
		name   string
		bounds Bounds
		wantX  int
		wantY  int
	}{
		{
			name:   "origin rectangle",
			bounds: Bounds{X: 0, Y: 0, Width: 100, Height: 50},
			wantX:  50,
			wantY:  25,
		},
		{
			name:   "offset rectangle",
			bounds: Bounds{X: 100, Y: 200, Width: 80, Height: 40},
			wantX:  140,
			wantY:  220,
		},
		{
			name:   "zero size",
			bounds: Bounds{X: 10, Y: 20},
			wantX:  10,
			wantY:  20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := tt.bounds.Center()
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("Center() = (%d, %d), want (%d, %d)", x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestBounds_Contains(t *testing.T) {
	b := Bounds{X: 10, Y: 10, Width: 100, Height: 50}

	tests := []struct {
		name string
		x, y int
		want bool
	}{
		{"inside", 50, 30, true},
		{"top-left corner", 10, 10, true},
		{"right edge exclusive", 110, 30, false},
		{"bottom edge exclusive", 50, 60, false},
		{"outside left", 5, 30, false},
		{"outside above", 50, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Contains(tt.x, tt.y); got != tt.want {
				t.Errorf("Contains(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{"android", PlatformAndroid, false},
		{"Android", PlatformAndroid, false},
		{" iOS ", PlatformIOS, false},
		{"iphone", PlatformIOS, false},
		{"windows", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePlatform(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePlatform(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDeviceKind(t *testing.T) {
	tests := []struct {
		in      string
		want    DeviceKind
		wantErr bool
	}{
		{"real", KindReal, false},
		{"", KindReal, false},
		{"emulator", KindEmulator, false},
		{"Simulator", KindSimulator, false},
		{"toaster", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDeviceKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDeviceKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseDeviceKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSwipeDirection_String(t *testing.T) {
	tests := []struct {
		dir  SwipeDirection
		want string
	}{
		{SwipeUp, "up"},
		{SwipeDown, "down"},
		{SwipeLeft, "left"},
		{SwipeRight, "right"},
		{SwipeDirection(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.dir.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
