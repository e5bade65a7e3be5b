// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LilVoxy/coursework_warehouse/config"
	"github.com/LilVoxy/coursework_warehouse/extractors"
	"github.com/LilVoxy/coursework_warehouse/load"
	"github.com/LilVoxy/coursework_warehouse/models"
	"github.com/LilVoxy/coursework_warehouse/pipeline"
	"github.com/LilVoxy/coursework_warehouse/quality"
	"github.com/LilVoxy/coursework_warehouse/registry"
	"github.com/LilVoxy/coursework_warehouse/routes"
	"github.com/LilVoxy/coursework_warehouse/utils"
	"github.com/go-co-op/gocron"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ETLRunner связывает компоненты конвейера и владеет подключениями
type ETLRunner struct {
	config        config.ETLConfig
	dbConnections *config.DBConnections
	logger        *utils.ETLLogger
	orchestrator  *pipeline.Orchestrator
	runLogRepo    models.RunLogRepository
}

// NewETLRunner создает новый экземпляр ETLRunner
func NewETLRunner() (*ETLRunner, error) {
	// Получаем конфигурацию
	etlConfig := config.GetConfig()

	// Инициализируем логгер
	logger := utils.NewETLLogger(etlConfig.EnableDetailedLogging)
	logger.Info("Инициализация ETL Runner")

	// Подключаемся к базам данных
	connections, err := config.ConnectDatabases(etlConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базам данных: %w", err)
	}

	// Репозиторий журнала запусков
	runLogRepo := models.NewMySQLRunLogRepository(connections.WarehouseDB)

	// Реестр суррогатных ключей
	keyRegistry := registry.NewKeyRegistry(
		connections.WarehouseDB, logger,
		etlConfig.QueryTimeout, etlConfig.MaxRetries, etlConfig.RetryDelay,
	)

	// Извлечение bronze-данных
	extractor := extractors.NewBronzeExtractor(connections.BronzeDB, logger, &etlConfig)

	// Загрузка gold-слоя
	loadManager := load.NewManager(connections.WarehouseDB, keyRegistry, logger, &etlConfig)

	// Проверки качества
	validator := quality.NewValidator(connections.WarehouseDB, logger, &etlConfig)

	orchestrator := pipeline.NewOrchestrator(
		&etlConfig, logger, extractor, keyRegistry, loadManager, validator, runLogRepo,
	)

	// Создаем служебные таблицы, если они еще не существуют
	if err := orchestrator.Setup(context.Background()); err != nil {
		config.CloseDatabases(connections)
		return nil, fmt.Errorf("ошибка при подготовке служебных таблиц: %w", err)
	}

	return &ETLRunner{
		config:        etlConfig,
		dbConnections: connections,
		logger:        logger,
		orchestrator:  orchestrator,
		runLogRepo:    runLogRepo,
	}, nil
}

// Close закрывает соединения с базами данных
func (r *ETLRunner) Close() {
	r.logger.Info("Завершение работы ETL Runner")
	config.CloseDatabases(r.dbConnections)
}

// ExecuteETL выполняет один запуск конвейера
func (r *ETLRunner) ExecuteETL(ctx context.Context, runID string, sources []string, mode string) error {
	if runID == "" {
		runID = uuid.New().String()
	}

	_, err := r.orchestrator.Run(ctx, runID, sources, mode)
	return err
}

// StartScheduler запускает планировщик для регулярного выполнения ETL
func (r *ETLRunner) StartScheduler(ctx context.Context, sources []string, mode string) {
	scheduler := gocron.NewScheduler(time.UTC)

	r.logger.Info("Запуск планировщика ETL с интервалом %v", r.config.RunInterval)

	_, err := scheduler.Every(r.config.RunInterval).Do(func() {
		r.logger.Info("Запланированный запуск ETL процесса")
		if err := r.ExecuteETL(ctx, "", sources, mode); err != nil {
			r.logger.Error("Ошибка при выполнении запланированного ETL: %v", err)
		}
	})

	if err != nil {
		r.logger.Error("Ошибка при настройке планировщика: %v", err)
		return
	}

	// Запускаем планировщик
	scheduler.StartAsync()

	// Ожидаем сигнал остановки из контекста
	<-ctx.Done()

	// Останавливаем планировщик
	scheduler.Stop()
	r.logger.Info("Планировщик ETL остановлен")
}

// StartMonitor поднимает HTTP-мониторинг состояния ETL
func (r *ETLRunner) StartMonitor(addr string) {
	router := mux.NewRouter()
	routes.SetupRoutes(router, r.runLogRepo, r.orchestrator)

	r.logger.Info("HTTP-мониторинг ETL доступен на %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, router); err != nil {
			r.logger.Error("Ошибка HTTP-мониторинга: %v", err)
		}
	}()
}

// RunOnce запускает ETL процесс один раз.
// Возвращает код завершения: 0 — успех, 1 — фатальная ошибка или
// превышение порога качества.
func RunOnce(runID string, sources []string, mode string) int {
	runner, err := NewETLRunner()
	if err != nil {
		log.Printf("Ошибка при создании ETL Runner: %v", err)
		return 1
	}
	defer runner.Close()

	if err := runner.ExecuteETL(context.Background(), runID, sources, mode); err != nil {
		log.Printf("Ошибка при выполнении ETL: %v", err)
		return 1
	}

	return 0
}

// RunScheduled запускает ETL процесс по расписанию
func RunScheduled(sources []string, mode, monitorAddr string) int {
	// Создаем контекст, который будет отменен при получении сигнала завершения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов завершения
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	// Запускаем горутину для обработки сигналов
	go func() {
		<-signalCh
		log.Println("Получен сигнал завершения. Останавливаем ETL Runner...")
		cancel()
	}()

	runner, err := NewETLRunner()
	if err != nil {
		log.Printf("Ошибка при создании ETL Runner: %v", err)
		return 1
	}
	defer runner.Close()

	if monitorAddr != "" {
		runner.StartMonitor(monitorAddr)
	}

	// Запускаем планировщик
	runner.StartScheduler(ctx, sources, mode)
	return 0
}

func main() {
	// Параметры командной строки
	modePtr := flag.String("mode", "once", "Режим работы: once или scheduled")
	runIDPtr := flag.String("run-id", "", "Идентификатор запуска (по умолчанию генерируется)")
	sourcesPtr := flag.String("sources", "", "Список источников через запятую (пусто — все)")
	loadModePtr := flag.String("load-mode", config.ModeFull, "Режим загрузки: full или incremental")
	monitorPtr := flag.String("monitor-addr", "", "Адрес HTTP-мониторинга (только для scheduled)")

	flag.Parse()

	if *loadModePtr != config.ModeFull && *loadModePtr != config.ModeIncremental {
		log.Println("Неизвестный режим загрузки:", *loadModePtr)
		log.Println("Доступные режимы загрузки: full, incremental")
		os.Exit(1)
	}

	var sources []string
	if *sourcesPtr != "" {
		sources = strings.Split(*sourcesPtr, ",")
		for i := range sources {
			sources[i] = strings.TrimSpace(sources[i])
		}
	}

	log.Println("Запуск ETL Runner в режиме:", *modePtr)

	exitCode := 0
	switch *modePtr {
	case "once":
		exitCode = RunOnce(*runIDPtr, sources, *loadModePtr)
	case "scheduled":
		exitCode = RunScheduled(sources, *loadModePtr, *monitorPtr)
	default:
		log.Println("Неизвестный режим работы:", *modePtr)
		log.Println("Доступные режимы: once, scheduled")
		exitCode = 1
	}

	log.Println("ETL Runner завершил работу")
	os.Exit(exitCode)
}
