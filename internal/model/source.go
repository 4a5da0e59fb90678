package model

// Repair is a repair ticket as written by the shop application.
type Repair struct {
	ID           int64  `json:"id"`
	TicketNumber string `json:"ticket_number"`
	DeviceBrand  string `json:"device_brand"`
	DeviceModel  string `json:"device_model"`
	Problem      string `json:"problem"`
	Diagnosis    string `json:"diagnosis"`
	Observations string `json:"observations"`
	PartsUsed    string `json:"parts_used"`
	LiquidDamage bool   `json:"liquid_damage"`
	HasPhotos    bool   `json:"has_photos"`
	Status       string `json:"status"`
	Mtime        int64  `json:"mtime"`
}

// Article is a curated knowledge article authored by technicians.
type Article struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DeviceBrand string `json:"device_brand"`
	DeviceModel string `json:"device_model"`
	Problem     string `json:"problem"`
	Solution    string `json:"solution"`
	Body        string `json:"body"`
	Tags        string `json:"tags"`
	Mtime       int64  `json:"mtime"`
}
