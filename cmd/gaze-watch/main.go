// gaze-watch - prints calibrated gaze points from a running gazed
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-gaze/internal/config"
	"github.com/teslashibe/go-gaze/internal/httpc"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	"github.com/teslashibe/go-gaze/pkg/protocol"
	"github.com/teslashibe/go-gaze/pkg/web"
)

func main() {
	server := flag.String("server", config.ServerURL("http://localhost:"+config.DefaultPort), "gazed base URL")
	session := flag.String("session", "", "Attach to an existing session instead of opening one")
	width := flag.Float64("width", 1920, "Viewport width")
	height := flag.Float64("height", 1080, "Viewport height")
	keep := flag.Bool("keep", false, "Leave the session open on exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base := strings.TrimRight(*server, "/")
	vp := calibration.Viewport{Width: *width, Height: *height}

	var view web.SessionView
	if *session == "" {
		err := httpc.DoJSON(ctx, http.MethodPost, base+"/api/sessions", web.OpenRequest{Viewport: &vp, Enable: true}, &view)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to open session: %v\n", err)
			os.Exit(1)
		}
		if !*keep {
			defer httpc.DoJSON(context.Background(), http.MethodDelete, base+"/api/sessions/"+view.ID, nil, nil)
		}
	} else {
		if err := httpc.DoJSON(ctx, http.MethodPost, base+"/api/sessions/"+*session+"/enable", nil, &view); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to enable session: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("👁️  Session %s: %s\n", view.ID, view.Status)
	if view.Error != "" {
		fmt.Printf("   %s\n", view.Error)
	}

	if err := watch(ctx, base, view.ID); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n👋 Bye")
}

func wsURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/gaze/" + id
	return u.String(), nil
}

func watch(ctx context.Context, base, id string) error {
	target, err := wsURL(base, id)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypePoint:
			p, err := msg.GetPointData()
			if err != nil {
				continue
			}
			fmt.Printf("\r🎯 %7.1f %7.1f  (raw %7.1f %7.1f)  conf %.2f   ", p.X, p.Y, p.RawX, p.RawY, p.Confidence)
		case protocol.TypeStatus:
			st, err := msg.GetStatusData()
			if err != nil {
				continue
			}
			fmt.Printf("\n📡 Status: %s", st.Status)
			if st.Error != "" {
				fmt.Printf(" (%s)", st.Error)
			}
			fmt.Println()
		}
	}
}
