package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	// DefaultStartTimeout bounds how long a runner may take to load its model.
	DefaultStartTimeout = 30 * time.Second
	// DefaultStopTimeout bounds how long Close waits for the runner to exit
	// after its stdin is closed. The process is killed after that.
	DefaultStopTimeout = 5 * time.Second
)

// RunnerConfig describes how to start a Python model runner.
type RunnerConfig struct {
	// ScriptPath is the runner script. Empty searches the usual locations.
	ScriptPath string
	// PythonPath is the interpreter. Empty prefers a virtualenv, then python3.
	PythonPath string
	// ModelPath is the model file handed to the runner.
	ModelPath string
	// Loader selects the loading strategy inside the runner.
	Loader string

	Confidence   float64
	IOU          float64
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Runner implements Backend using a Python subprocess. Regions are sent as
// length-prefixed JPEG on stdin; each answer is one JSON line on stdout.
type Runner struct {
	kind   Kind
	config RunnerConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	log    logrus.FieldLogger
}

// StartRunner starts the runner process and waits for it to report that the
// model loaded. The process is killed if the handshake fails.
func StartRunner(kind Kind, config RunnerConfig, log logrus.FieldLogger) (*Runner, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = findRunnerScript()
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("seat_runner.py not found")
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("runner script: %w", err)
	}

	pythonPath := config.PythonPath
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	timeout := config.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	cmd := exec.Command(pythonPath, scriptPath,
		"--model", config.ModelPath,
		"--loader", config.Loader,
		"--conf", strconv.FormatFloat(config.Confidence, 'f', -1, 64),
		"--iou", strconv.FormatFloat(config.IOU, 'f', -1, 64),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runner: %w", err)
	}

	r := &Runner{
		kind:   kind,
		config: config,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		log:    log.WithFields(logrus.Fields{"loader": config.Loader, "model": config.ModelPath}),
	}

	if err := r.handshake(timeout); err != nil {
		r.kill()
		return nil, err
	}

	r.log.Info("runner ready")
	return r, nil
}

// handshake reads the first line, which reports whether the model loaded.
func (r *Runner) handshake(timeout time.Duration) error {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := r.stdout.ReadString('\n')
		done <- result{line, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("read runner handshake: %w", res.err)
		}
		var hello struct {
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(res.line), &hello); err != nil {
			return fmt.Errorf("parse runner handshake: %w", err)
		}
		if !hello.Ready {
			if hello.Error == "" {
				hello.Error = "runner did not report ready"
			}
			return errors.New(hello.Error)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("runner did not load model within %s", timeout)
	}
}

// Kind returns the kind the runner was started for.
func (r *Runner) Kind() Kind {
	return r.kind
}

// Detect sends one region to the runner and decodes its answer.
func (r *Runner) Detect(region gocv.Mat) (Raw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return Raw{}, fmt.Errorf("runner is closed")
	}

	buf, err := gocv.IMEncode(".jpg", region)
	if err != nil {
		return Raw{}, fmt.Errorf("encode region: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := r.stdin.Write(length); err != nil {
		return Raw{}, fmt.Errorf("write length: %w", err)
	}
	if _, err := r.stdin.Write(data); err != nil {
		return Raw{}, fmt.Errorf("write data: %w", err)
	}

	line, err := r.stdout.ReadBytes('\n')
	if err != nil {
		return Raw{}, fmt.Errorf("read response: %w", err)
	}

	return decodeRunnerOutput(r.config.Loader, line)
}

// Close shuts down the runner process. A runner that does not exit within
// StopTimeout of its stdin closing is killed.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return nil
	}

	timeout := r.config.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	cmd := r.cmd
	r.stdin.Close()
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(timeout):
		r.log.WithField("timeout", timeout).Warn("runner did not exit, killing it")
		cmd.Process.Kill()
		<-done
		err = fmt.Errorf("runner did not exit within %s", timeout)
	}

	r.cmd = nil
	r.stdin = nil
	r.stdout = nil

	return err
}

func (r *Runner) kill() {
	if r.cmd == nil || r.cmd.Process == nil {
		return
	}
	r.stdin.Close()
	r.cmd.Process.Kill()
	r.cmd.Wait()
	r.cmd = nil
}

func findRunnerScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/seat_runner.py",
		"../scripts/seat_runner.py",
		filepath.Join(execDir, "scripts/seat_runner.py"),
		filepath.Join(os.Getenv("HOME"), ".seatwatch/scripts/seat_runner.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".seatwatch/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
