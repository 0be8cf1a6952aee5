package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ftsensor/goftl/pkg/output"
	"github.com/ftsensor/goftl/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

// Console output writing to w instead of stdout
func NewWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(s sensor.Snapshot) error {
	flags := ""
	if s.Status != 0 {
		flags = fmt.Sprintf(" status=%v", s.Status)
	}
	_, err := fmt.Fprintf(c.w, "%s counter=%d %v temp=%.0f%s\n",
		s.Timestamp.Format(time.RFC3339Nano), s.Counter, s.XYZ, s.Temperature, flags)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
