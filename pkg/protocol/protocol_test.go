package protocol

import (
	"encoding/json"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload, _ := json.Marshal(SendPayload{
		To:      "root",
		Payload: map[string]any{"text": "hello"},
		DelayMs: 500,
	})
	frame := Frame{Type: TypeSend, ID: "corr-1", Payload: payload}

	data, err := json.Marshal(&frame)
	if err != nil {
		t.Fatal(err)
	}
	var got Frame
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeSend || got.ID != "corr-1" {
		t.Errorf("frame = %+v", got)
	}

	var sp SendPayload
	if err := json.Unmarshal(got.Payload, &sp); err != nil {
		t.Fatal(err)
	}
	if sp.To != "root" || sp.DelayMs != 500 || sp.Payload["text"] != "hello" {
		t.Errorf("send payload = %+v", sp)
	}
}

func TestEventFrame(t *testing.T) {
	frame, err := EventFrame("status_changed", map[string]any{"agent": "a1", "status": "idle"})
	if err != nil {
		t.Fatal(err)
	}
	if frame.Type != TypeEvent || frame.Event != "status_changed" {
		t.Errorf("frame = %+v", frame)
	}

	var payload map[string]any
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["agent"] != "a1" {
		t.Errorf("payload = %v", payload)
	}

	if _, err := EventFrame("bad", map[string]any{"fn": func() {}}); err == nil {
		t.Error("unmarshalable payload accepted")
	}
}

func TestOmittedFieldsStayOffTheWire(t *testing.T) {
	data, err := json.Marshal(&Frame{Type: TypePong})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("wire form = %s", data)
	}
}
