package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/summit-chronicles/summit_api/model"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type SqliteService struct {
	appContext.DefaultService
	db *gorm.DB

	database string
}

const SQLITE_SVC = "sqlite_svc"

// Id returns Service ID
func (ds SqliteService) Id() string {
	return SQLITE_SVC
}

// Db Access to raw SqliteService db
func (ds SqliteService) Db() *gorm.DB {
	return ds.db
}

// Configure the service
func (ds *SqliteService) Configure(ctx *appContext.Context) error {
	ds.database = os.Getenv("DB_DATABASE")
	if ds.database == "" {
		ds.database = "summit_api.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// Start the service and open connection to the database
// Migrate any tables that have changed since last runtime
func (ds *SqliteService) Start() (err error) {
	ds.db, err = gorm.Open(sqlite.Open(ds.database), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return err
	}

	models := []interface{}{
		&model.APIMetricSnapshot{},
		&model.Alert{},
	}

	err = ds.db.AutoMigrate(models...)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *SqliteService) Shutdown() {
}

// ==================== SNAPSHOT STORE ====================

func (ds *SqliteService) ListSnapshots() ([]model.APIMetricSnapshot, error) {
	var snapshots []model.APIMetricSnapshot
	if err := ds.db.Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// SaveSnapshot upserts the one row a surface keeps.
func (ds *SqliteService) SaveSnapshot(snapshot *model.APIMetricSnapshot) error {
	var existing model.APIMetricSnapshot
	err := ds.db.Where("surface = ?", snapshot.Surface).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		snapshot.ID = uuid.NewString()
		snapshot.CreatedAt = time.Now()
		snapshot.UpdatedAt = snapshot.CreatedAt
		return ds.db.Create(snapshot).Error
	}
	if err != nil {
		return err
	}

	snapshot.ID = existing.ID
	snapshot.CreatedAt = existing.CreatedAt
	snapshot.UpdatedAt = time.Now()
	return ds.db.Save(snapshot).Error
}

// ==================== ALERT STORE ====================

func (ds *SqliteService) InsertAlerts(alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return ds.db.Create(&alerts).Error
}

func (ds *SqliteService) ListAlerts(surface string, limit int) ([]model.Alert, error) {
	var alerts []model.Alert
	err := ds.db.Where("surface = ?", surface).
		Order("timestamp desc").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (ds *SqliteService) DeleteAlertsOlderThan(cutoff time.Time) error {
	return ds.db.Where("timestamp < ?", cutoff).Delete(&model.Alert{}).Error
}

// ==================== ERRORS ====================

func (ds *SqliteService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError
		errorType = "TRANSACTION_ERROR"
	default:
		statusCode = http.StatusInternalServerError
		errorType = "INTERNAL_ERROR"
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}
