package qemu

import (
	"log/slog"
	"os"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/tidwall/gjson"
)

var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:     slog.LevelInfo,
	AddSource: true,
}))

// SetLogger sets the global logger used throughout the qemu package.
func SetLogger(logger *slog.Logger) {
	if logger != nil {
		log = logger
	}
}

// RunQMPAndLog sends a raw QMP command to the monitor and logs the response.
func RunQMPAndLog(monitor qmp.Monitor, json string) ([]byte, error) {
	log.Debug("qmp command", "json", json)
	raw, err := monitor.Run([]byte(json))
	log.Debug("qmp reply", "error", err)
	PrettyPrintJSON(raw)
	return raw, err
}

// PrettyPrintJSON formats and logs a JSON reply for debugging purposes.
func PrettyPrintJSON(raw []byte) {
	if !gjson.ValidBytes(raw) {
		// Invalid JSON, printing raw
		log.Debug(string(raw))
		return
	}
	log.Debug(gjson.GetBytes(raw, "@pretty").String())
}
