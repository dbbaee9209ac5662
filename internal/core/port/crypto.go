package port

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecretHasher hashes low-entropy secrets (one-time codes) and verifies them in constant time.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret string, encoded string) (bool, error)
}

// CodeCipher reversibly encrypts one-time codes so queue payloads never carry plaintext.
type CodeCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// CodeGenerator produces fixed-length numeric one-time codes.
type CodeGenerator interface {
	Generate(digits int) (string, error)
}

// TokenGenerator produces high-entropy plaintext bearer tokens.
type TokenGenerator interface {
	Generate() (string, error)
}
