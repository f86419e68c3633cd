package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/totp"
	"github.com/dmitrijs2005/vaultguard/internal/vault"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Enroll prompts for a user id and passphrase and creates a new vault.
// The passphrase byte slice is wiped before returning.
func (a *App) Enroll(ctx context.Context) error {
	userID, err := getSimpleText(a.reader, "Enter user id", os.Stdout)
	if err != nil {
		return err
	}

	passphrase, err := getPassword(os.Stdout, "Enter passphrase: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(passphrase)

	if err := a.service.Enroll(ctx, userID, passphrase); err != nil {
		if errors.Is(err, common.ErrAlreadyEnrolled) {
			fmt.Println("A vault already exists for this user.")
			return err
		}
		fmt.Printf("Error: %v\n", err)
		return err
	}

	fmt.Println("Vault created. Unlock it to add entries.")
	return nil
}

// Unlock verifies the passphrase and opens a session holding the master key.
func (a *App) Unlock(ctx context.Context) error {
	userID, err := getSimpleText(a.reader, "Enter user id", os.Stdout)
	if err != nil {
		return err
	}

	passphrase, err := getPassword(os.Stdout, "Enter passphrase: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(passphrase)

	sess, err := a.service.Unlock(ctx, userID, passphrase)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			fmt.Println("Invalid credentials.")
			return err
		}
		fmt.Printf("Error: %v\n", err)
		return err
	}

	a.lockSession()
	a.session = sess
	a.userID = userID
	fmt.Println("Vault unlocked.")
	return nil
}

// Lock discards the session key.
func (a *App) Lock(ctx context.Context) error {
	a.lockSession()
	fmt.Println("Vault locked.")
	return nil
}

var errLocked = errors.New("vault is locked")

func (a *App) requireSession() error {
	if !a.isUnlocked() {
		fmt.Println("Unlock the vault first.")
		return errLocked
	}
	return nil
}

// readEnvelope prompts for the common plaintext envelope fields.
func (a *App) readEnvelope() (vault.EntryEnvelope, error) {
	title, err := getSimpleText(a.reader, "Enter title", os.Stdout)
	if err != nil {
		return vault.EntryEnvelope{}, err
	}
	tagLine, err := getSimpleText(a.reader, "Enter tags (comma-separated, empty for none)", os.Stdout)
	if err != nil {
		return vault.EntryEnvelope{}, err
	}

	env := vault.EntryEnvelope{Title: title}
	for _, t := range strings.Split(tagLine, ",") {
		if t = strings.TrimSpace(t); t != "" {
			env.Tags = append(env.Tags, t)
		}
	}
	return env, nil
}

func (a *App) createEntry(ctx context.Context, env vault.EntryEnvelope, details vault.TypedDetails) error {
	payload, err := vault.Wrap(details)
	if err != nil {
		return err
	}
	view, err := a.service.CreateEntry(ctx, a.session, env, payload)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return err
	}
	fmt.Printf("Saved: %s\n", view.Entry.ID)
	return nil
}

// AddLogin stores a username/password pair.
func (a *App) AddLogin(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	env, err := a.readEnvelope()
	if err != nil {
		return err
	}
	username, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}
	password, err := getPassword(os.Stdout, "Enter password: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	return a.createEntry(ctx, env, vault.Login{Username: username, Password: string(password)})
}

// AddNote stores free-form text.
func (a *App) AddNote(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	env, err := a.readEnvelope()
	if err != nil {
		return err
	}
	text, err := getSimpleText(a.reader, "Enter note text", os.Stdout)
	if err != nil {
		return err
	}
	return a.createEntry(ctx, env, vault.Note{Text: text})
}

// AddCard stores payment card details.
func (a *App) AddCard(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	env, err := a.readEnvelope()
	if err != nil {
		return err
	}
	number, err := getSimpleText(a.reader, "Enter card number", os.Stdout)
	if err != nil {
		return err
	}
	expiration, err := getSimpleText(a.reader, "Enter expiration (MM/YY)", os.Stdout)
	if err != nil {
		return err
	}
	cvv, err := getPassword(os.Stdout, "Enter CVV: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(cvv)
	holder, err := getSimpleText(a.reader, "Enter card holder", os.Stdout)
	if err != nil {
		return err
	}

	return a.createEntry(ctx, env, vault.CreditCard{
		Number:     number,
		Expiration: expiration,
		CVV:        string(cvv),
		Holder:     holder,
	})
}

// AddTOTP generates a fresh shared secret, prints the provisioning URI and
// stores the secret as an encrypted entry.
func (a *App) AddTOTP(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	env, err := a.readEnvelope()
	if err != nil {
		return err
	}
	issuer, err := getSimpleText(a.reader, "Enter issuer", os.Stdout)
	if err != nil {
		return err
	}
	account, err := getSimpleText(a.reader, "Enter account", os.Stdout)
	if err != nil {
		return err
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return err
	}
	uri, err := totp.BuildURI(secret, issuer, account)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return err
	}

	if err := a.createEntry(ctx, env, vault.TOTPSeed{
		Issuer:       issuer,
		Account:      account,
		Base32Secret: secret,
	}); err != nil {
		return err
	}

	fmt.Printf("Scan this in your authenticator app:\n%s\n", uri)
	return nil
}

// List prints the plaintext envelopes of all entries.
func (a *App) List(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	entries, err := a.service.ListEntries(ctx, a.userID, vault.EntryFilter{})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return err
	}

	if len(entries) == 0 {
		fmt.Println("The vault is empty.")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %s", e.ID, e.Title)
		if len(e.Tags) > 0 {
			line += "  [" + strings.Join(e.Tags, ", ") + "]"
		}
		fmt.Println(line)
	}
	return nil
}

// Show decrypts and prints a single entry.
func (a *App) Show(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	id, err := getSimpleText(a.reader, "Enter entry id", os.Stdout)
	if err != nil {
		return err
	}

	entry, err := a.service.GetEntry(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			fmt.Println("No such entry.")
			return err
		}
		fmt.Printf("Error: %v\n", err)
		return err
	}

	payload, err := a.service.DecryptEntry(a.session, entry)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return err
	}

	details, err := payload.Unwrap()
	if err != nil {
		return err
	}

	fmt.Printf("Title: %s\nCategory: %s\n%+v\n", entry.Title, payload.Category, details)
	return nil
}

// Delete removes a single entry by id.
func (a *App) Delete(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	id, err := getSimpleText(a.reader, "Enter entry id", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.service.DeleteEntry(ctx, a.userID, id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			fmt.Println("No such entry.")
			return err
		}
		fmt.Printf("Error: %v\n", err)
		return err
	}

	fmt.Println("Deleted.")
	return nil
}

// DeleteTag removes every entry carrying the given tag.
func (a *App) DeleteTag(ctx context.Context) error {
	if err := a.requireSession(); err != nil {
		return err
	}
	tag, err := getSimpleText(a.reader, "Enter tag", os.Stdout)
	if err != nil {
		return err
	}

	n, err := a.service.DeleteEntriesByTag(ctx, a.userID, tag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return err
	}

	fmt.Printf("Deleted %d entries.\n", n)
	return nil
}

// Rotate re-encrypts the vault under a new passphrase. The session is locked
// afterwards; the user must unlock with the new passphrase.
func (a *App) Rotate(ctx context.Context) error {
	if !a.isUnlocked() {
		fmt.Println("Unlock the vault first.")
		return errLocked
	}

	oldPassphrase, err := getPassword(os.Stdout, "Enter current passphrase: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(oldPassphrase)

	newPassphrase, err := getPassword(os.Stdout, "Enter new passphrase: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(newPassphrase)

	if err := a.service.Rotate(ctx, a.userID, oldPassphrase, newPassphrase); err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			fmt.Println("Invalid credentials.")
			return err
		}
		fmt.Printf("Rotation failed, the vault is unchanged: %v\n", err)
		return err
	}

	a.lockSession()
	fmt.Println("Passphrase rotated. Unlock the vault with the new passphrase.")
	return nil
}
