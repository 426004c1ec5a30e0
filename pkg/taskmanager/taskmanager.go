// Package taskmanager - внутрипроцессный менеджер асинхронных запусков
// пайплайна: отслеживание статуса, отмена, коллбэки на смену состояния
// и уборка завершенных запусков.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// IRunManager определяет интерфейс менеджера запусков.
type IRunManager interface {
	SubmitRun(ctx context.Context, runFunc RunFunc, params interface{}) (uuid.UUID, error)
	GetRun(runID uuid.UUID) (*Run, error)
	CancelRun(runID uuid.UUID) error
	RegisterCallback(runID uuid.UUID, callback RunCallback) error
	UnregisterCallbacks(runID uuid.UUID)
	CleanupRuns(age time.Duration)
	Close()
	Shutdown(ctx context.Context) error
}

// Run представляет один асинхронный запуск пайплайна.
type Run struct {
	ID        uuid.UUID
	Status    RunStatus
	Message   string
	Result    interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
	Cancel    context.CancelFunc
}

// RunStatus представляет статус запуска.
type RunStatus string

// Возможные статусы запусков
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunFunc представляет функцию, выполняемую в запуске.
type RunFunc func(ctx context.Context, params interface{}) (interface{}, error)

// RunCallback вызывается при каждой смене статуса запуска.
type RunCallback func(run *Run)

// RunManager управляет асинхронными запусками.
type RunManager struct {
	runs      map[uuid.UUID]*Run
	mu        sync.RWMutex
	maxRuns   int
	callbacks map[uuid.UUID][]RunCallback
	closing   chan struct{}
	wg        sync.WaitGroup
}

// Config содержит конфигурацию для RunManager.
type Config struct {
	MaxRuns int
}

// New создает новый экземпляр RunManager.
func New(cfg Config) (*RunManager, error) {
	maxRuns := cfg.MaxRuns
	if maxRuns <= 0 {
		maxRuns = 10
	}

	return &RunManager{
		runs:      make(map[uuid.UUID]*Run),
		maxRuns:   maxRuns,
		callbacks: make(map[uuid.UUID][]RunCallback),
		closing:   make(chan struct{}),
	}, nil
}

// SubmitRun создает и запускает новый запуск.
func (rm *RunManager) SubmitRun(ctx context.Context, runFunc RunFunc, params interface{}) (uuid.UUID, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	active := 0
	for _, run := range rm.runs {
		if run.Status == RunStatusPending || run.Status == RunStatusRunning {
			active++
		}
	}
	if active >= rm.maxRuns {
		return uuid.UUID{}, errors.New("превышено максимальное количество активных запусков")
	}

	runID := uuid.New()

	// Независимый контекст: запуск переживает запрос, его создавший.
	baseCtx, cancel := context.WithCancel(context.Background())
	runLogger := log.Ctx(ctx)
	runCtx := runLogger.WithContext(baseCtx)

	run := &Run{
		ID:        runID,
		Status:    RunStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Cancel:    cancel,
	}
	rm.runs[runID] = run

	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		defer cancel()
		rm.execute(runCtx, run, runFunc, params)
	}()

	return runID, nil
}

// execute выполняет запуск и обновляет его статус.
func (rm *RunManager) execute(ctx context.Context, run *Run, runFunc RunFunc, params interface{}) {
	rm.updateStatus(ctx, run, RunStatusRunning, "Запуск начат")

	result, err := runFunc(ctx, params)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Ctx(ctx).Info().Str("runID", run.ID.String()).Msg("Контекст запуска был отменен")
			rm.updateStatus(ctx, run, RunStatusCancelled, "Запуск отменен")
		} else {
			log.Ctx(ctx).Error().Err(ctx.Err()).Str("runID", run.ID.String()).Msg("Ошибка контекста запуска")
			rm.updateStatus(ctx, run, RunStatusFailed, fmt.Sprintf("Ошибка контекста: %v", ctx.Err()))
		}
		return
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("runID", run.ID.String()).Msg("Запуск завершился с ошибкой")
		rm.updateStatus(ctx, run, RunStatusFailed, fmt.Sprintf("Ошибка: %v", err))
	} else {
		run.Result = result
		log.Ctx(ctx).Info().Str("runID", run.ID.String()).Msg("Запуск успешно выполнен")
		rm.updateStatus(ctx, run, RunStatusCompleted, "Запуск успешно выполнен")
	}
}

// updateStatus обновляет статус запуска и дергает коллбэки.
func (rm *RunManager) updateStatus(ctx context.Context, run *Run, status RunStatus, message string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run.Status = status
	run.Message = message
	run.UpdatedAt = time.Now()

	if callbacks, ok := rm.callbacks[run.ID]; ok {
		for _, callback := range callbacks {
			go callback(run)
		}
	}

	log.Ctx(ctx).Info().
		Str("runID", run.ID.String()).
		Str("newStatus", string(run.Status)).
		Str("message", run.Message).
		Msg("Статус запуска обновлен")
}

// GetRun возвращает информацию о запуске по ID.
func (rm *RunManager) GetRun(runID uuid.UUID) (*Run, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	run, ok := rm.runs[runID]
	if !ok {
		return nil, fmt.Errorf("запуск с ID %s не найден", runID)
	}

	return run, nil
}

// CancelRun отменяет выполнение запуска.
func (rm *RunManager) CancelRun(runID uuid.UUID) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, ok := rm.runs[runID]
	if !ok {
		return fmt.Errorf("запуск с ID %s не найден", runID)
	}

	if run.Status != RunStatusPending && run.Status != RunStatusRunning {
		return fmt.Errorf("невозможно отменить запуск в статусе %s", run.Status)
	}

	if run.Cancel != nil {
		run.Cancel()
	}

	run.Status = RunStatusCancelled
	run.Message = "Запуск отменен"
	run.UpdatedAt = time.Now()

	return nil
}

// RegisterCallback регистрирует функцию обратного вызова для запуска.
// Если запуск уже в терминальном статусе, коллбэк вызывается сразу:
// быстрый запуск мог завершиться до регистрации.
func (rm *RunManager) RegisterCallback(runID uuid.UUID, callback RunCallback) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, ok := rm.runs[runID]
	if !ok {
		return fmt.Errorf("запуск с ID %s не найден", runID)
	}

	rm.callbacks[runID] = append(rm.callbacks[runID], callback)

	switch run.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		go callback(run)
	}

	return nil
}

// UnregisterCallbacks удаляет все коллбэки для запуска.
func (rm *RunManager) UnregisterCallbacks(runID uuid.UUID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.callbacks, runID)
}

// CleanupRuns удаляет завершенные запуски старше указанного возраста.
func (rm *RunManager) CleanupRuns(age time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := time.Now()
	for id, run := range rm.runs {
		if (run.Status == RunStatusCompleted || run.Status == RunStatusFailed || run.Status == RunStatusCancelled) &&
			now.Sub(run.UpdatedAt) > age {
			delete(rm.runs, id)
			delete(rm.callbacks, id)
		}
	}
}

// Close закрывает менеджер и отменяет все незавершенные запуски.
func (rm *RunManager) Close() {
	close(rm.closing)
	rm.mu.Lock()
	for _, run := range rm.runs {
		if run.Status == RunStatusPending || run.Status == RunStatusRunning {
			if run.Cancel != nil {
				run.Cancel()
			}
		}
	}
	rm.mu.Unlock()

	rm.wg.Wait()
}

// Shutdown ожидает завершения всех запусков с таймаутом.
func (rm *RunManager) Shutdown(ctx context.Context) error {
	close(rm.closing)

	done := make(chan struct{})
	go func() {
		rm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("таймаут при ожидании завершения запусков")
	}
}

var _ IRunManager = (*RunManager)(nil)
