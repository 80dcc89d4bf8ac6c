package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/kaiwahq/kaiwa/pkg/protocol"
)

func tailCmd() *cobra.Command {
	var (
		addr     string
		projects []string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live gateway events to stdout",
		Long: "Connects to a running kaiwa gateway and prints every pushed " +
			"event (file changes, notifications, usage digests) as one JSON " +
			"line. With --project, file-change events are narrowed to the " +
			"given project ids.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(addr, projects)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default: host:port from config)")
	cmd.Flags().StringArrayVar(&projects, "project", nil, "project id filter (repeatable)")
	return cmd
}

func runTail(addr string, projects []string) error {
	cfg := loadConfig()
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}
	url := "ws://" + addr + "/ws/updates"

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := &websocket.DialOptions{}
	if cfg.Gateway.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + cfg.Gateway.Token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if len(projects) > 0 {
		msg := protocol.ClientMessage{
			Type:    protocol.MessageUpdateFilters,
			Filters: &protocol.ClientFilters{Projects: projects},
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			return fmt.Errorf("send filters: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "tailing %s (ctrl-c to stop)\n", url)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Println(string(data))
	}
}
