// Package process lanza workers como procesos del sistema operativo y mide su
// consumo de recursos.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/alejandrodnm/arbfleet/internal/ports"
)

// ErrForeignHandle se devuelve si se pasa un handle que no creó este launcher.
var ErrForeignHandle = errors.New("process handle not created by exec launcher")

// Handle es un proceso lanzado con os/exec.
type Handle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// PID devuelve el pid del proceso.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done se cierra cuando el proceso termina.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr es válido solo tras cerrarse Done.
func (h *Handle) ExitErr() error { return h.err }

// Launcher implementa ports.ProcessLauncher con os/exec.
type Launcher struct {
	// LogDir, si no está vacío, recibe <command>.log con stdout/stderr de cada worker.
	LogDir string
}

// NewLauncher crea un Launcher.
func NewLauncher(logDir string) *Launcher {
	return &Launcher{LogDir: logDir}
}

// Launch arranca el proceso. El proceso no queda atado a ctx: su vida la
// controla el Supervisor via Terminate.
func (l *Launcher) Launch(ctx context.Context, spec domain.LaunchSpec) (ports.ProcessHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("process.Launch: %w", err)
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	// grupo propio (pgid = pid): Terminate señala al grupo entero, hijos incluidos
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if l.LogDir != "" {
		f, err := openLog(l.LogDir, spec.Command)
		if err != nil {
			return nil, fmt.Errorf("process.Launch: %w", err)
		}
		cmd.Stdout, cmd.Stderr = f, f
		logFile = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("process.Launch: start %q: %w", spec.Command, err)
	}

	h := &Handle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
		close(h.done)
	}()

	slog.Debug("process: launched", "command", spec.Command, "pid", h.PID())
	return h, nil
}

// IsAlive devuelve true mientras el proceso no haya terminado.
func (l *Launcher) IsAlive(ph ports.ProcessHandle) bool {
	if ph == nil {
		return false
	}
	select {
	case <-ph.Done():
		return false
	default:
		return true
	}
}

// Terminate envía SIGTERM al grupo del worker y mata el grupo si el líder no
// sale en grace. Al salir el líder se mata lo que quede del grupo: un hijo
// huérfano mantendría el puerto ocupado y el siguiente arranque fallaría.
func (l *Launcher) Terminate(ph ports.ProcessHandle, grace time.Duration) error {
	h, ok := ph.(*Handle)
	if !ok {
		return ErrForeignHandle
	}
	if !l.IsAlive(h) {
		return signalGroup(h.PID(), syscall.SIGKILL)
	}

	pgid := h.PID()
	if err := signalGroup(pgid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("process.Terminate: sigterm group %d: %w", pgid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		slog.Warn("process: grace expired, killing group", "pid", pgid, "grace", grace)
		if err := signalGroup(pgid, syscall.SIGKILL); err != nil {
			return fmt.Errorf("process.Terminate: kill group %d: %w", pgid, err)
		}
		<-h.done
	}

	if err := signalGroup(pgid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("process.Terminate: reap group %d: %w", pgid, err)
	}
	return nil
}

// signalGroup envía sig a todo el grupo pgid. Un grupo vacío no es error.
func signalGroup(pgid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// mergeEnv añade extra sobre base en orden determinista.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
