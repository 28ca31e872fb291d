package main

import (
	"encoding/json"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/go-gl/mathgl/mgl32"

	"boxcraft.dev/internal/protocol"
	"boxcraft.dev/internal/sim/boxgraph"
	"boxcraft.dev/internal/sim/lattice"
	"boxcraft.dev/internal/sim/world"
)

const (
	lookStep  = 0.15
	pitchStep = 0.1
)

var kindStyles = map[boxgraph.Kind]struct {
	r     rune
	style tcell.Style
}{
	boxgraph.Dirt:   {'#', tcell.StyleDefault.Foreground(tcell.NewRGBColor(140, 90, 40))},
	boxgraph.Grass:  {'"', tcell.StyleDefault.Foreground(tcell.ColorGreen)},
	boxgraph.Stone:  {'%', tcell.StyleDefault.Foreground(tcell.ColorGray)},
	boxgraph.Log:    {'O', tcell.StyleDefault.Foreground(tcell.ColorYellow)},
	boxgraph.Leaves: {'*', tcell.StyleDefault.Foreground(tcell.NewRGBColor(60, 200, 60))},
}

var buildKinds = []string{"DIRT", "GRASS", "STONE", "LOG", "LEAVES"}

// viewer drives an in-process world one tick at a time and draws it top-down.
type viewer struct {
	w       *world.World
	screen  tcell.Screen
	agentID string
	out     chan []byte

	obs     protocol.ObsMsg
	pending []protocol.ActionReq
	seq     int
	kind    string
	status  string
}

func newViewer(w *world.World, screen tcell.Screen, name string) (*viewer, error) {
	v := &viewer{w: w, screen: screen, out: make(chan []byte, 4), kind: "STONE"}
	resp := make(chan world.JoinResponse, 1)
	w.StepOnce([]world.JoinRequest{{Name: name, Out: v.out, Resp: resp}}, nil, nil)
	r := <-resp
	if r.Code != "" {
		return nil, fmt.Errorf("%s: %s", r.Code, r.Message)
	}
	v.agentID = r.Welcome.AgentID
	v.drain()
	return v, nil
}

// handleKey queues actions for the next tick. It returns false on quit.
func (v *viewer) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyLeft:
		v.queue(protocol.ActionReq{Type: protocol.ActionLook, Yaw: v.obs.Self.Yaw - lookStep, Pitch: v.obs.Self.Pitch})
	case tcell.KeyRight:
		v.queue(protocol.ActionReq{Type: protocol.ActionLook, Yaw: v.obs.Self.Yaw + lookStep, Pitch: v.obs.Self.Pitch})
	case tcell.KeyUp:
		v.queue(protocol.ActionReq{Type: protocol.ActionLook, Yaw: v.obs.Self.Yaw, Pitch: v.obs.Self.Pitch + pitchStep})
	case tcell.KeyDown:
		v.queue(protocol.ActionReq{Type: protocol.ActionLook, Yaw: v.obs.Self.Yaw, Pitch: v.obs.Self.Pitch - pitchStep})
	case tcell.KeyRune:
		switch r := ev.Rune(); r {
		case 'q':
			return false
		case 'w':
			v.queue(protocol.ActionReq{Type: protocol.ActionMove, Forward: 1})
		case 's':
			v.queue(protocol.ActionReq{Type: protocol.ActionMove, Forward: -1})
		case 'a':
			v.queue(protocol.ActionReq{Type: protocol.ActionMove, Strafe: -1})
		case 'd':
			v.queue(protocol.ActionReq{Type: protocol.ActionMove, Strafe: 1})
		case 'x':
			v.queue(protocol.ActionReq{Type: protocol.ActionMove})
		case ' ':
			v.queue(protocol.ActionReq{Type: protocol.ActionJump})
		case 'p':
			v.queue(protocol.ActionReq{Type: protocol.ActionPlace, Kind: v.kind})
		case 'b':
			v.queue(protocol.ActionReq{Type: protocol.ActionBreak})
		case '1', '2', '3', '4', '5':
			v.kind = buildKinds[r-'1']
			v.status = "building with " + v.kind
		}
	}
	return true
}

func (v *viewer) queue(req protocol.ActionReq) {
	v.seq++
	req.ID = fmt.Sprintf("k%d", v.seq)
	v.pending = append(v.pending, req)
}

// step advances the world one tick with whatever was queued.
func (v *viewer) step() {
	var acts []world.ActionEnvelope
	if len(v.pending) > 0 {
		acts = []world.ActionEnvelope{{AgentID: v.agentID, Act: protocol.ActMsg{
			Type:            protocol.TypeAct,
			ProtocolVersion: protocol.Version,
			AgentID:         v.agentID,
			Actions:         v.pending,
		}}}
		v.pending = nil
	}
	v.w.StepOnce(nil, nil, acts)
	v.drain()
}

func (v *viewer) drain() {
	for {
		select {
		case b := <-v.out:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(b, &obs); err != nil {
				v.status = "bad OBS: " + err.Error()
				continue
			}
			v.obs = obs
			for _, r := range obs.Results {
				if r.Type != protocol.ActionPlace && r.Type != protocol.ActionBreak {
					continue
				}
				if r.OK {
					v.status = fmt.Sprintf("%s ok (box %d)", r.Type, r.BoxID)
				} else {
					v.status = fmt.Sprintf("%s: %s %s", r.Type, r.Code, r.Message)
				}
			}
		default:
			return
		}
	}
}

// column is the top-most box over one (x,z) cell.
type column struct {
	y    int
	kind boxgraph.Kind
}

func topDown(items []world.DrawItem) map[[2]int]column {
	cols := make(map[[2]int]column, len(items))
	for _, it := range items {
		k := [2]int{int(it.Pos.X), int(it.Pos.Z)}
		y := int(it.Pos.Y)
		if c, ok := cols[k]; ok && c.y >= y {
			continue
		}
		cols[k] = column{y: y, kind: it.Kind}
	}
	return cols
}

func (v *viewer) draw() {
	s := v.screen
	s.Clear()
	width, height := s.Size()
	mapH := height - 2
	if width <= 0 || mapH <= 0 {
		s.Show()
		return
	}

	cell := lattice.Floor(mgl32.Vec3(v.obs.Self.Pos))
	ax, az := int(cell.X), int(cell.Z)
	cx, cz := width/2, mapH/2

	for k, c := range topDown(v.w.DrawList()) {
		sx, sy := k[0]-ax+cx, k[1]-az+cz
		if sx < 0 || sx >= width || sy < 0 || sy >= mapH {
			continue
		}
		ks, ok := kindStyles[c.kind]
		if !ok {
			continue
		}
		s.SetContent(sx, sy, ks.r, nil, ks.style)
	}
	if t := v.obs.Target; t != nil {
		sx, sy := t.Pos[0]-ax+cx, t.Pos[2]-az+cz
		if sx >= 0 && sx < width && sy >= 0 && sy < mapH {
			mainc, _, style, _ := s.GetContent(sx, sy)
			s.SetContent(sx, sy, mainc, nil, style.Reverse(true))
		}
	}
	s.SetContent(cx, cz, '@', nil, tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true))

	p := v.obs.Self.Pos
	line := fmt.Sprintf("tick %d  pos %.1f %.1f %.1f  yaw %.2f pitch %.2f  boxes %d/%d  kind %s",
		v.obs.Tick, p[0], p[1], p[2], v.obs.Self.Yaw, v.obs.Self.Pitch, v.obs.Boxes, v.obs.Capacity, v.kind)
	if t := v.obs.Target; t != nil {
		line += fmt.Sprintf("  target %s %v %s", t.Kind, t.Pos, t.Face)
	}
	drawText(s, 0, height-2, line, tcell.StyleDefault)
	drawText(s, 0, height-1, v.status, tcell.StyleDefault.Foreground(tcell.ColorYellow))
	s.Show()
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	w, _ := s.Size()
	for _, r := range text {
		if x >= w {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
}
