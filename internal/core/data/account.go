package data

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Account contains the persistent information specific to each registered player.
type Account struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"unique; not null"`
	// Name lowercased with spaces replaced by underscores, used for
	// case/format-insensitive lookup. Always derived from Name.
	SafeName       string `gorm:"unique; not null"`
	Email          string `gorm:"unique"`
	PasswordBcrypt string `gorm:"not null"`

	Privileges int `gorm:"default:1"`
	Country    string
	ClanTag    string
	// UNIX timestamp at which the account's silence expires. Zero means not silenced.
	SilenceEnd int64

	CreationTime   time.Time
	LatestActivity time.Time
}

// SafeName converts a display name to its canonical lookup form.
func SafeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// FindAccountByID searches for an account with the given id, returning the
// *Account instance if found or nil if there is no match.
func FindAccountByID(db *gorm.DB, id uint64) (*Account, error) {
	var account Account
	err := db.First(&account, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &account, nil
}

// FindAccountByName searches for an account by the safe form of the specified
// name, returning the *Account instance if found or nil if there is no match.
func FindAccountByName(db *gorm.DB, name string) (*Account, error) {
	var account Account
	err := db.Where("safe_name = ?", SafeName(name)).First(&account).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &account, nil
}

// CreateAccount persists the Account record to the database, deriving SafeName
// from the record's display name.
func CreateAccount(db *gorm.DB, account *Account) error {
	account.SafeName = SafeName(account.Name)
	return db.Create(account).Error
}

// UpdateAccountPrivileges persists a new privilege bitset for the account.
func UpdateAccountPrivileges(db *gorm.DB, id uint64, privileges int) error {
	return db.Model(&Account{}).Where("id = ?", id).Update("privileges", privileges).Error
}

// UpdateAccountSilenceEnd persists the UNIX timestamp at which the account's
// silence expires.
func UpdateAccountSilenceEnd(db *gorm.DB, id uint64, silenceEnd int64) error {
	return db.Model(&Account{}).Where("id = ?", id).Update("silence_end", silenceEnd).Error
}

// UpdateAccountActivity stamps the account's latest activity time.
func UpdateAccountActivity(db *gorm.DB, id uint64) error {
	return db.Model(&Account{}).Where("id = ?", id).Update("latest_activity", time.Now()).Error
}

// Friendship is a one-directional friend relationship between two accounts.
type Friendship struct {
	ID       uint64 `gorm:"primaryKey"`
	UserID   uint64 `gorm:"index; not null"`
	FriendID uint64 `gorm:"not null"`
}

// FindFriendIDs returns the ids of every account the user has added as a friend.
func FindFriendIDs(db *gorm.DB, userID uint64) ([]int32, error) {
	var ids []int32
	err := db.Model(&Friendship{}).Where("user_id = ?", userID).Pluck("friend_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AddFriend records a friendship if one does not already exist.
func AddFriend(db *gorm.DB, userID, friendID uint64) error {
	var existing Friendship
	err := db.Where("user_id = ? AND friend_id = ?", userID, friendID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Create(&Friendship{UserID: userID, FriendID: friendID}).Error
}

// RemoveFriend deletes a friendship if it exists.
func RemoveFriend(db *gorm.DB, userID, friendID uint64) error {
	return db.Where("user_id = ? AND friend_id = ?", userID, friendID).Delete(&Friendship{}).Error
}
