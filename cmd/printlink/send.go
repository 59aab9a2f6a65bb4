package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/printlink/internal/capability"
	"github.com/srg/printlink/internal/protocol"
	"github.com/srg/printlink/internal/session"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [device-address] [json]",
	Short: "Send a JSON command and print the reassembled reply",
	Long: `Connects to a printer, writes a JSON command to its command channel and
waits for a complete JSON reply on the notify characteristic.

Without a device address the last connected printer is restored.`,
	Example: `  printlink send AA:BB:CC:DD:EE:FF '{"type":"status"}'
  printlink send --type wifi --data '{"ssid":"lab","password":"secret"}'
  printlink send AA:BB:CC:DD:EE:FF --file job.json --chunk-size 180`,
	Args: cobra.MaximumNArgs(2),
	RunE: runSend,
}

var (
	sendType      string
	sendData      string
	sendFile      string
	sendChunkSize int
	sendFragment  bool
	sendTimeout   time.Duration
	sendService   string
	sendRequest   string
	sendResponse  string
)

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", "", "Command type, wrapped as {type, data, timestamp}")
	sendCmd.Flags().StringVar(&sendData, "data", "", "JSON object sent as the command data (with --type)")
	sendCmd.Flags().StringVar(&sendFile, "file", "", "Read the raw JSON payload from a file ('-' for stdin)")
	sendCmd.Flags().IntVar(&sendChunkSize, "chunk-size", 0, "Fragment size in bytes (default derived from the MTU)")
	sendCmd.Flags().BoolVar(&sendFragment, "fragment", false, "Always write in unacknowledged fragments")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "Reply timeout (default from config)")
	sendCmd.Flags().StringVar(&sendService, "service", "", "Pin the vendor service UUID")
	sendCmd.Flags().StringVar(&sendRequest, "request", "", "Pin the request characteristic UUID")
	sendCmd.Flags().StringVar(&sendResponse, "response", "", "Pin the response characteristic UUID (default: request)")
}

// buildPayload picks the payload source from the flags and positional json.
func buildPayload(rawArg string, stdin io.Reader) ([]byte, error) {
	sources := 0
	for _, s := range []string{sendType, rawArg, sendFile} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("exactly one of --type, a JSON argument or --file is required")
	}
	if sendData != "" && sendType == "" {
		return nil, fmt.Errorf("--data requires --type")
	}

	switch {
	case sendType != "":
		var data any
		if sendData != "" {
			data = json.RawMessage(sendData)
		}
		cmd, err := protocol.NewCommand(sendType, data)
		if err != nil {
			return nil, err
		}
		return cmd.Encode()
	case sendFile != "":
		var data []byte
		var err error
		if sendFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(sendFile)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return validJSON(data)
	default:
		return validJSON([]byte(rawArg))
	}
}

func validJSON(data []byte) ([]byte, error) {
	trimmed := []byte(strings.TrimSpace(string(data)))
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return trimmed, nil
}

// pinnedSet returns the capability set from --service/--request/--response.
func pinnedSet() (capability.Set, bool, error) {
	if sendService == "" && sendRequest == "" && sendResponse == "" {
		return capability.Set{}, false, nil
	}
	if sendService == "" || sendRequest == "" {
		return capability.Set{}, false, fmt.Errorf("--service and --request must be given together")
	}
	return capability.Set{ServiceUUID: sendService, RequestCharUUID: sendRequest, ResponseCharUUID: sendResponse}, true, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	var address, rawArg string
	switch len(args) {
	case 2:
		address, rawArg = args[0], args[1]
	case 1:
		// A lone argument is JSON when it looks like it, otherwise an address.
		if strings.HasPrefix(strings.TrimSpace(args[0]), "{") || strings.HasPrefix(strings.TrimSpace(args[0]), "[") {
			rawArg = args[0]
		} else {
			address = args[0]
		}
	}

	payload, err := buildPayload(rawArg, cmd.InOrStdin())
	if err != nil {
		return err
	}
	pin, pinned, err := pinnedSet()
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if pinned && address != "" {
		if err := a.manager.Resolver().Pin(address, pin); err != nil {
			return err
		}
	}

	sess, err := openSession(ctx, a, address)
	if sess == nil {
		return err
	}
	if pinned && address == "" {
		if err := sess.SetCapabilities(pin); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	timeout := a.cfg.Protocol.Timeout
	if sendTimeout > 0 {
		timeout = sendTimeout
	}

	a.logger.WithField("device", sess.DeviceID()).WithField("bytes", len(payload)).Info("Sending command")

	var resp *protocol.Response
	if sendFragment || sendChunkSize > 0 {
		resp, err = sess.SendFragmented(ctx, payload, sendChunkSize, session.WithTimeout(timeout))
	} else {
		resp, err = sess.Send(ctx, payload, session.WithTimeout(timeout))
	}
	if err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), resp)
}

// openSession connects to address or restores the last printer when it is empty.
func openSession(ctx context.Context, a *app, address string) (*session.Session, error) {
	if address != "" {
		return a.manager.Connect(ctx, address, nil)
	}
	sess, restored, err := a.manager.RestoreLastConnection(ctx)
	if err != nil {
		return sess, err
	}
	if !restored {
		return nil, errors.New("no device given and no previous printer to restore")
	}
	return sess, nil
}
