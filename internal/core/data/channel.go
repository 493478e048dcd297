package data

import "gorm.io/gorm"

// ChannelSpec describes a chat channel the server offers.
type ChannelSpec struct {
	ID    uint64 `gorm:"primaryKey"`
	Name  string `gorm:"unique; not null"`
	Topic string
	// Whether clients are placed in the channel automatically at login.
	AutoJoin bool
	// Minimum privilege bits required to see/speak in the channel. Zero means public.
	ReadPrivileges  int
	WritePrivileges int
}

// FindChannelSpecs returns every configured channel.
func FindChannelSpecs(db *gorm.DB) ([]ChannelSpec, error) {
	var specs []ChannelSpec
	if err := db.Find(&specs).Error; err != nil {
		return nil, err
	}
	return specs, nil
}

// SeedDefaultChannels inserts the baseline channel set if no channels exist.
func SeedDefaultChannels(db *gorm.DB) error {
	var count int64
	if err := db.Model(&ChannelSpec{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := []ChannelSpec{
		{Name: "#osu", Topic: "General discussion.", AutoJoin: true},
		{Name: "#announce", Topic: "Announcements from the server.", AutoJoin: true},
		{Name: "#lobby", Topic: "Multiplayer lobby discussion."},
	}
	return db.Create(&defaults).Error
}
