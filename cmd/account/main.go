// This script is a small convenience tool for manipulating player accounts in
// the configured server database.
package main

import (
	"bufio"
	"crypto/md5"
	"flag"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/dzifors/nova/internal/core"
	"github.com/dzifors/nova/internal/core/data"
)

var (
	configFlag = flag.String("config", "./", "Path to the directory containing the server config file")
	add        = flag.Bool("add", false, "Add an account.")
	setPrivs   = flag.Bool("set-privileges", false, "Replace an account's privilege bits.")
	del        = flag.Bool("delete", false, "Delete an account permanently.")
	help       = flag.Bool("help", false, "Print this usage info.")
)

func main() {
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	config := core.LoadConfig(*configFlag)
	db, err := data.Initialize(config.DatabaseURL(), false)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer func() { _ = data.Shutdown(db) }()

	switch {
	case *add:
		u := scanInput("Username")
		p := scanInput("Password")
		e := scanInput("Email")
		err = addAccount(db, u, p, e)
	case *setPrivs:
		u := scanInput("Username")
		b := scanInput("Privilege bits")
		err = setPrivileges(db, u, b)
	case *del:
		u := scanInput("Username")
		err = deleteAccount(db, u)
	default:
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

func scanInput(prompt string) string {
	fmt.Printf("%s: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text()
}

func addAccount(db *gorm.DB, username, password, email string) error {
	// The game client authenticates with the md5 of the password, so the
	// stored bcrypt hash covers that digest rather than the plaintext.
	passwordMD5 := fmt.Sprintf("%x", md5.Sum([]byte(password)))
	hash, err := bcrypt.GenerateFromPassword([]byte(passwordMD5), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account := &data.Account{
		Name:           username,
		Email:          email,
		PasswordBcrypt: string(hash),
	}
	if err := data.CreateAccount(db, account); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	fmt.Println("created account with ID:", account.ID)
	return nil
}

func setPrivileges(db *gorm.DB, username, bits string) error {
	privileges, err := strconv.Atoi(bits)
	if err != nil {
		return fmt.Errorf("failed to parse privilege bits: %w", err)
	}
	account, err := data.FindAccountByName(db, username)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account named %q", username)
	}
	if err := data.UpdateAccountPrivileges(db, account.ID, privileges); err != nil {
		return fmt.Errorf("failed to update privileges: %w", err)
	}
	fmt.Println("updated privileges")
	return nil
}

func deleteAccount(db *gorm.DB, username string) error {
	account, err := data.FindAccountByName(db, username)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account named %q", username)
	}
	if err := db.Delete(account).Error; err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	fmt.Println("deleted account")
	return nil
}
