package models

import "context"

type IDGenerator interface {
	ID() (string, error)
}

type Encryptor interface {
	Encrypt(value string) (encrypted string, err error)
	Decrypt(value string) (decrypted string, err error)
}

// CredentialGetter returns the current credential or nil when none is stored.
type CredentialGetter interface {
	Get() *Credential
}

type CredentialSetter interface {
	Set(ctx context.Context, cred Credential)
}

type CredentialRemover interface {
	Clear(ctx context.Context)
}

// CredentialSwapper updates the store only while expected is still the current
// credential. Both methods report whether the store was changed.
type CredentialSwapper interface {
	Replace(ctx context.Context, expected Credential, cred Credential) bool
	Discard(ctx context.Context, expected Credential) bool
}

// CredentialNotifier is the port through which credential changes leave the client.
// A nil credential means the credential was cleared.
type CredentialNotifier interface {
	Notify(ctx context.Context, cred *Credential) error
}
