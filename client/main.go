// Command client subscribes to a player's relay notifications and prints
// them. Useful to watch a game end to end against a local relay.
package main

import (
	"encoding/json"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/gamerelay/logger"
	"github.com/wfunc/gamerelay/notify"
)

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	return c.WriteMessage(websocket.BinaryMessage, notify.EncodePacket(msgID, data))
}

func main() {
	host := flag.String("host", "localhost:8080", "relay HTTP address")
	token := flag.String("token", "", "JWT of the player")
	user := flag.String("user", "", "user id when the relay runs without auth")
	flag.Parse()

	logger.Init("debug")
	defer logger.Sync()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	q := url.Values{}
	if *token != "" {
		q.Set("token", *token)
	}
	if *user != "" {
		q.Set("user", *user)
	}
	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws", RawQuery: q.Encode()}
	logger.Log.Infof("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Infof("Read error: %v", err)
				return
			}
			p, err := notify.DecodePacket(message)
			if err != nil {
				logger.Log.Warnf("Received invalid packet of size %d: %v", len(message), err)
				continue
			}
			if p.MsgID == notify.MsgTypeHeartbeat {
				continue
			}

			var n notify.Notification
			if err := json.Unmarshal(p.Data, &n); err != nil {
				logger.Log.Warnf("RECV (ID: %d) undecodable: %v", p.MsgID, err)
				continue
			}
			logger.Log.Infof("RECV %s %s:%d\n%s", n.Type, n.Kind, n.GameID, n.Message)
		}
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := send(c, notify.MsgTypeHeartbeat, nil); err != nil {
				logger.Log.Infof("Write error: %v", err)
				return
			}
		case <-interrupt:
			logger.Log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Log.Infof("Write close error: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
