// Command camsim replays a directory of JPEG captures against a relay as if
// it were the shelf camera. Useful for demos and load testing without
// hardware.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/wire"
)

var (
	addr     = flag.String("addr", "ws://localhost:8080/ws/camera", "Relay camera endpoint")
	dir      = flag.String("dir", "captures", "Directory of JPEG frames to replay")
	fps      = flag.Float64("fps", 2, "Frames per second")
	token    = flag.String("token", "", "Producer auth token")
	loop     = flag.Bool("loop", true, "Restart from the first frame after the last")
	pingSecs = flag.Int("ping", 3, "Seconds between liveness pings")
)

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}

func main() {
	flag.Parse()

	frames, err := listFrames(*dir)
	if err != nil {
		log.Fatalf("failed to list frames: %v", err)
	}
	if len(frames) == 0 {
		log.Fatalf("no JPEG frames found in %s", *dir)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()

	hello, err := wire.EncodeHello(wire.ProducerHello{
		Version: relay.ProtocolVersion,
		Token:   *token,
	})
	if err != nil {
		log.Fatalf("failed to encode hello: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		log.Fatalf("failed to send hello: %v", err)
	}
	log.Printf("connected to %s, replaying %d frames at %.1f fps", *addr, len(frames), *fps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The relay preempts this session if another camera connects; the read
	// pump notices the close and stops the run.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				log.Printf("connection closed: %v", err)
				stop()
				return
			}
		}
	}()

	frameTicker := time.NewTicker(time.Duration(float64(time.Second) / *fps))
	defer frameTicker.Stop()
	pingTicker := time.NewTicker(time.Duration(*pingSecs) * time.Second)
	defer pingTicker.Stop()

	sent := 0
	next := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("done, sent %d frames", sent)
			return
		case <-pingTicker.C:
			data, err := wire.EncodeProducerMessage(wire.NewPingMessage())
			if err != nil {
				log.Fatalf("failed to encode ping: %v", err)
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Fatalf("failed to send ping: %v", err)
			}
		case <-frameTicker.C:
			if next >= len(frames) {
				if !*loop {
					log.Printf("done, sent %d frames", sent)
					return
				}
				next = 0
			}
			payload, err := os.ReadFile(frames[next])
			if err != nil {
				log.Fatalf("failed to read %s: %v", frames[next], err)
			}
			data, err := wire.EncodeProducerMessage(wire.NewFrameMessage(payload, time.Now()))
			if err != nil {
				log.Fatalf("failed to encode frame: %v", err)
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Fatalf("failed to send frame: %v", err)
			}
			next++
			sent++
		}
	}
}
