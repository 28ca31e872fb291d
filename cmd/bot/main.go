package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"boxcraft.dev/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "agent name")
		kind   = flag.String("kind", "STONE", "box kind to build with")
		height = flag.Int("height", 4, "boxes to stack before tearing down")
		loops  = flag.Int("loops", 0, "build/tear-down cycles (0 = forever)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	b := newBuilder(*kind, *height, *loops)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME agent_id=%s world=%s tick_rate=%d capacity=%d", w.AgentID, w.WorldID, w.WorldParams.TickRateHz, w.WorldParams.PoolCapacity)

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			logger.Printf("ACK for=%s code=%s %s", a.AckFor, a.Code, a.Message)

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			for _, r := range obs.Results {
				if r.OK {
					logger.Printf("tick=%d %s ok box=%d", r.Tick, r.Type, r.BoxID)
				} else {
					logger.Printf("tick=%d %s failed code=%s %s", r.Tick, r.Type, r.Code, r.Message)
				}
			}
			act, done := b.next(&obs)
			if done {
				logger.Printf("done: built=%d broke=%d boxes=%d/%d", b.placed, b.broken, obs.Boxes, obs.Capacity)
				return
			}
			if act != nil {
				if err := conn.WriteJSON(act); err != nil {
					logger.Printf("send ACT: %v", err)
					return
				}
			}
		}
	}
}
