package core

import (
	"bytes"
	"testing"
)

// TestFrameImplementation tests the basic functionality of the Frame implementation.
func TestFrameImplementation(t *testing.T) {
	for _, debug := range []bool{true, false} {
		t.Run("DebugMode="+boolToString(debug), func(t *testing.T) {
			SetDebugMode(debug)

			testData := []byte{0x2d, 0x00, 0x10}
			frame := NewFrame(testData)

			if !bytes.Equal(frame.Data(), testData) {
				t.Errorf("Expected frame data to be %v, got %v", testData, frame.Data())
			}
			if frame.Length() != len(testData) {
				t.Errorf("Expected frame length to be %d, got %d", len(testData), frame.Length())
			}
			if frame.Overrun() {
				t.Error("Captured frame must not be an overrun marker")
			}
		})
	}
}

// TestFrameCopy checks that frame data is copied in debug mode and aliased otherwise.
func TestFrameCopy(t *testing.T) {
	t.Run("DebugMode=true", func(t *testing.T) {
		SetDebugMode(true)
		testData := []byte{0x01, 0x02, 0x03}
		frame := NewFrame(testData)

		testData[0] = 0xFF
		data := frame.Data()
		if data[0] == 0xFF {
			t.Error("Frame data was not copied, it's still referencing the original data")
		}

		data[1] = 0xFF
		if frame.Data()[1] == 0xFF {
			t.Error("Data() did not return a copy of the frame data")
		}
	})

	t.Run("DebugMode=false", func(t *testing.T) {
		SetDebugMode(false)
		testData := []byte{0x01, 0x02, 0x03}
		frame := NewFrame(testData)

		testData[0] = 0xFF
		if frame.Data()[0] != 0xFF {
			t.Error("Frame data was copied, but it shouldn't be in non-debug mode")
		}
	})
}

// TestOverrunFrame tests the marker frame.
func TestOverrunFrame(t *testing.T) {
	frame := NewOverrunFrame()
	if !frame.Overrun() {
		t.Error("Expected overrun marker")
	}
	if frame.Length() != 0 || len(frame.Data()) != 0 {
		t.Errorf("Expected empty marker, got %v", frame.Data())
	}
}

// TestNilFrame tests creating a frame from nil data.
func TestNilFrame(t *testing.T) {
	for _, debug := range []bool{true, false} {
		t.Run("DebugMode="+boolToString(debug), func(t *testing.T) {
			SetDebugMode(debug)
			frame := NewFrame(nil)
			if frame.Data() == nil || frame.Length() != 0 {
				t.Errorf("Expected empty frame data, got %v", frame.Data())
			}
		})
	}
	SetDebugMode(false)
}

// TestFrameHandlerFunc tests the function adapter.
func TestFrameHandlerFunc(t *testing.T) {
	var seen int
	var h FrameHandler = FrameHandlerFunc(func(f Frame) error {
		seen += f.Length()
		return nil
	})
	if err := h.HandleFrame(NewFrame([]byte{1, 2})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 2 {
		t.Errorf("Expected handler to observe 2 bytes, got %d", seen)
	}
}

// TestByteSample tests the sample helpers.
func TestByteSample(t *testing.T) {
	s := ByteSample(0xa5)
	if !s.Active || !s.Valid || s.Data != 0xa5 {
		t.Errorf("unexpected sample %+v", s)
	}
	if IdleSample.Active || IdleSample.Valid {
		t.Errorf("idle sample must be inactive: %+v", IdleSample)
	}
}

// Helper function to convert bool to string
func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
