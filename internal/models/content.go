package models

import "time"

// Course is a bookable course shown on the public site
type Course struct {
	Tracked     `yaml:",inline"`
	Title       string  `gorm:"type:varchar(255);not null;uniqueIndex:idx_courses_title,where:deleted_at IS NULL" json:"title" yaml:"title"`
	Summary     string  `json:"summary" yaml:"summary"`
	Description string  `gorm:"type:text" json:"description" yaml:"description"`
	Price       float64 `json:"price" yaml:"price"`
	DurationHrs int     `json:"duration_hrs" yaml:"duration_hrs"`
	ImageKey    string  `json:"image_key,omitempty" yaml:"image_key,omitempty"`
	Published   bool    `gorm:"default:false" json:"published" yaml:"published"`
}

// TableName specifies the table name for Course model
func (Course) TableName() string { return "courses" }

func (c *Course) NaturalKey() string { return c.Title }

// Event is a dated session (open day, webinar, workshop)
type Event struct {
	Tracked     `yaml:",inline"`
	Title       string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_events_title,where:deleted_at IS NULL" json:"title" yaml:"title"`
	Location    string    `json:"location" yaml:"location"`
	StartsAt    time.Time `json:"starts_at" yaml:"starts_at"`
	EndsAt      time.Time `json:"ends_at" yaml:"ends_at"`
	Description string    `gorm:"type:text" json:"description" yaml:"description"`
	Capacity    int       `json:"capacity" yaml:"capacity"`
}

// TableName specifies the table name for Event model
func (Event) TableName() string { return "events" }

func (e *Event) NaturalKey() string { return e.Title }

// Training is a certified training programme, identified by its certificate id
type Training struct {
	Tracked       `yaml:",inline"`
	CertificateID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_trainings_certificate,where:deleted_at IS NULL" json:"certificate_id" yaml:"certificate_id"`
	Title         string `json:"title" yaml:"title"`
	Provider      string `json:"provider" yaml:"provider"`
	Description   string `gorm:"type:text" json:"description" yaml:"description"`
	Hours         int    `json:"hours" yaml:"hours"`
}

// TableName specifies the table name for Training model
func (Training) TableName() string { return "trainings" }

func (t *Training) NaturalKey() string { return t.CertificateID }

// Video is an embedded video reference
type Video struct {
	Tracked     `yaml:",inline"`
	Title       string `gorm:"type:varchar(255);not null;uniqueIndex:idx_videos_title,where:deleted_at IS NULL" json:"title" yaml:"title"`
	URL         string `json:"url" yaml:"url"`
	Description string `gorm:"type:text" json:"description" yaml:"description"`
	Duration    int    `json:"duration" yaml:"duration"` // seconds
}

// TableName specifies the table name for Video model
func (Video) TableName() string { return "videos" }

func (v *Video) NaturalKey() string { return v.Title }

// Image is the metadata of an uploaded image; the binary lives in upload storage
type Image struct {
	Tracked  `yaml:",inline"`
	ImageKey string `gorm:"type:varchar(255);not null;uniqueIndex:idx_images_key,where:deleted_at IS NULL" json:"image_key" yaml:"image_key"`
	Caption  string `json:"caption" yaml:"caption"`
	Path     string `json:"path" yaml:"path"`
	AltText  string `json:"alt_text" yaml:"alt_text"`
}

// TableName specifies the table name for Image model
func (Image) TableName() string { return "images" }

func (i *Image) NaturalKey() string { return i.ImageKey }

// Message is an inbound contact / lead message from the public site
type Message struct {
	Tracked   `yaml:",inline"`
	Reference string `gorm:"type:varchar(64);not null;uniqueIndex:idx_messages_reference,where:deleted_at IS NULL" json:"reference" yaml:"reference"`
	Name      string `json:"name" yaml:"name"`
	Email     string `gorm:"index" json:"email" yaml:"email"`
	Phone     string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Subject   string `json:"subject" yaml:"subject"`
	Body      string `gorm:"type:text" json:"body" yaml:"body"`
	SourceIP  string `json:"source_ip,omitempty" yaml:"source_ip,omitempty"`
	Read      bool   `gorm:"default:false" json:"read" yaml:"read"`
}

// TableName specifies the table name for Message model
func (Message) TableName() string { return "messages" }

func (m *Message) NaturalKey() string { return m.Reference }
