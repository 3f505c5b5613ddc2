package db

import (
	"time"
)

// Consumer represents a billing account in the database
type Consumer struct {
	ID           int64
	CustomerCode string
	Name         string
	CreatedAt    time.Time
}

// WaterMeter represents a physical meter in the database
type WaterMeter struct {
	ID         int64
	ConsumerID int64
	MeterCode  string
	Location   *string
	IsActive   bool
	CreatedAt  time.Time
}

// Image represents one uploaded meter photograph
type Image struct {
	ID           int64
	WaterMeterID int64
	ImageURL     string
	Processed    bool
	CreatedAt    time.Time
}

// OCRResult represents the recorded outcome of one extraction attempt
type OCRResult struct {
	ID           int64
	ImageID      int64
	TaskID       string
	Value        *string
	RawText      *string
	Confidence   float64
	Status       string
	ErrorMessage *string
	CreatedAt    time.Time
}

// OCRResult status values
const (
	OCRStatusSuccess = "success"
	OCRStatusError   = "error"
)
