package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/projectcars/speedcam/internal/api"
	"github.com/projectcars/speedcam/internal/database"
	"github.com/projectcars/speedcam/internal/detector"
	"github.com/projectcars/speedcam/internal/media"
	"github.com/projectcars/speedcam/internal/pipeline"
	"github.com/projectcars/speedcam/internal/report"
	"github.com/projectcars/speedcam/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	maxUploadSize := os.Getenv("MAX_UPLOAD_SIZE")
	if maxUploadSize == "" {
		maxUploadSize = "524288000"
	}
	maxSize, err := strconv.ParseInt(maxUploadSize, 10, 64)
	if err != nil {
		log.Fatal("Invalid MAX_UPLOAD_SIZE:", err)
	}

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	processedDir := os.Getenv("PROCESSED_DIR")
	if processedDir == "" {
		processedDir = "./processed"
	}

	// Database configuration
	dbType := os.Getenv("DB_TYPE")
	if dbType == "" {
		dbType = "sqlite"
	}

	var dbConfig database.Config
	dbConfig.Type = dbType

	if dbType == "postgres" {
		dbConfig.Host = os.Getenv("DB_HOST")
		if dbConfig.Host == "" {
			dbConfig.Host = "localhost"
		}

		dbPortStr := os.Getenv("DB_PORT")
		if dbPortStr == "" {
			dbPortStr = "5432"
		}
		dbPort, err := strconv.Atoi(dbPortStr)
		if err != nil {
			log.Fatal("Invalid DB_PORT:", err)
		}
		dbConfig.Port = dbPort

		dbConfig.User = os.Getenv("DB_USER")
		if dbConfig.User == "" {
			dbConfig.User = "speedcam"
		}

		dbConfig.Password = os.Getenv("DB_PASSWORD")
		if dbConfig.Password == "" {
			dbConfig.Password = "speedcam_dev"
		}

		dbConfig.Name = os.Getenv("DB_NAME")
		if dbConfig.Name == "" {
			dbConfig.Name = "speedcam"
		}
	} else {
		dbConfig.SQLitePath = os.Getenv("DB_PATH")
		if dbConfig.SQLitePath == "" {
			dbConfig.SQLitePath = "./speedcam.db"
		}
	}

	uploads, err := storage.NewLocalStorage(uploadDir)
	if err != nil {
		log.Fatal("Failed to initialize upload storage:", err)
	}
	processed, err := storage.NewLocalStorage(processedDir)
	if err != nil {
		log.Fatal("Failed to initialize processed storage:", err)
	}

	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}

	log.Printf("Running database migrations from %s", migrationsPath)
	if err := db.RunMigrations(migrationsPath); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	videoRepo := database.NewVideoRepository(db)
	calibrationRepo := database.NewCalibrationRepository(db)
	detectionRepo := database.NewDetectionRepository(db)

	prober, err := media.NewProber()
	if err != nil {
		log.Fatal("Failed to initialize media prober (is ffmpeg installed?):", err)
	}
	defer prober.Cleanup()

	detectorCmd := os.Getenv("DETECTOR_CMD")
	if detectorCmd == "" {
		detectorCmd = "speedcam-tracker"
	}
	det, err := detector.NewCommandDetector(detectorCmd)
	if err != nil {
		log.Fatal("Failed to initialize detector:", err)
	}

	timeout := pipeline.DefaultTimeout
	if env := os.Getenv("PROCESS_TIMEOUT_MINUTES"); env != "" {
		minutes, err := strconv.Atoi(env)
		if err != nil {
			log.Fatal("Invalid PROCESS_TIMEOUT_MINUTES:", err)
		}
		timeout = time.Duration(minutes) * time.Minute
	}

	pipe := pipeline.NewService(videoRepo, calibrationRepo, detectionRepo, det, uploads, processed, timeout)

	app := &api.App{
		Uploads:       uploads,
		Processed:     processed,
		DB:            db,
		Videos:        videoRepo,
		Calibrations:  calibrationRepo,
		Detections:    detectionRepo,
		Pipeline:      pipe,
		Media:         prober,
		Reports:       report.NewAggregator(videoRepo, detectionRepo),
		MaxUploadSize: maxSize,
	}

	router := api.NewRouter(app)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", port)
		log.Printf("Upload directory: %s", uploadDir)
		log.Printf("Processed directory: %s", processedDir)
		log.Printf("Database type: %s", dbType)
		log.Printf("Detector command: %s", detectorCmd)
		log.Printf("Max upload size: %d bytes", maxSize)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down, waiting for active processing runs")
	pipe.Shutdown()
	server.Close()
}
