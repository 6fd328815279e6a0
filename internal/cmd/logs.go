package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/soporteakasiapro1-art/pi-island/internal/config"
)

var (
	logsLines  int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the serve log",
	Long: `Print the tail of the serve log. The path is taken from the running
instance if there is one, else the default ~/.pi-island/logs/serve.log.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logFile := ""
		if inst := config.FindInstance(config.InstanceServe); inst != nil {
			logFile = inst.LogPath
		}
		if logFile == "" {
			var err error
			if logFile, err = defaultLogPath(); err != nil {
				return err
			}
		}
		return tailLogFile(cmd.Context(), cmd.OutOrStdout(), logFile, logsLines, logsFollow)
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow new output")
}

// defaultLogPath is where serve logs unless --log says otherwise.
func defaultLogPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "serve.log"), nil
}

// tailLogFile prints the last n lines from path, optionally following for
// new content until ctx is done.
func tailLogFile(ctx context.Context, w io.Writer, path string, n int, follow bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("log file not found: %s", path)
		}
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	lines, err := readLastLines(f, n)
	if err != nil {
		return err
	}
	for _, line := range lines {
		io.WriteString(w, line)
	}

	if !follow {
		return nil
	}
	buf := make([]byte, 4096)
	for {
		nr, err := f.Read(buf)
		if nr > 0 {
			w.Write(buf[:nr])
		}
		if err != nil && err != io.EOF {
			return err
		}
		if nr == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
}

// readLastLines returns the last n lines of f, each with its trailing
// newline, and leaves f positioned at the end.
func readLastLines(f *os.File, n int) ([]string, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	// Log files are small enough to read whole.
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}

	var lines []string
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			lines = append(lines, string(buf[start:i+1]))
			start = i + 1
		}
	}
	if start < len(buf) {
		lines = append(lines, string(buf[start:])+"\n")
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return lines, nil
}
