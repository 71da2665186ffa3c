package driven

import (
	"errors"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by Cipher operations when
// KEYFETCH_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set KEYFETCH_SECRET_KEY")

// Cipher seals and opens vault values. Keys are scoped per owner, so a value
// sealed for one owner cannot be opened for another.
type Cipher interface {
	// Seal encrypts plaintext with a fresh random nonce.
	Seal(ownerID string, plaintext []byte) (model.EncryptedValue, error)

	// Open decrypts a sealed value. Authentication failures wrap model.ErrDecryption.
	Open(ownerID string, value model.EncryptedValue) ([]byte, error)
}
