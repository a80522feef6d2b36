package cognito

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// The SRP group Cognito uses: the 3072-bit MODP group from RFC 3526 with
// generator 2. These values are part of the provider's protocol contract
// and must match it exactly.
const srpNHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
	"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
	"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
	"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
	"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
	"43DB5BFCE0FD108E4B82D120A92108011A723C12A787E6D7" +
	"88719A10BDBA5B2699C327186AF4E23C1A946834B6150BDA" +
	"2583E9CA2AD44CE8DBBBC2DB04DE8EF92E8EFC141FBECAA6" +
	"287C59474E6BC05D99B2964FA090C3A2233BA186515BE7ED" +
	"1F612970CEE2D7AFB81BDD762170481CD0069127D5B05AA9" +
	"93B4EA988D8FDDC186FFB7DC90A6C08F4DF435C934063199" +
	"FFFFFFFFFFFFFFFF"

// derivedKeyInfo is the HKDF info string Cognito requires for session key
// derivation.
const derivedKeyInfo = "Caldera Derived Key"

// derivedKeySize is the HKDF output length in bytes.
const derivedKeySize = 16

// timestampLayout renders timestamps the way Cognito's password verifier
// expects them: day of month unpadded, hour zero-padded, literal "UTC".
const timestampLayout = "Mon Jan 2 15:04:05 UTC 2006"

// srpExchange holds the client side of one SRP run: the group parameters
// plus the ephemeral secret a and public value A, generated fresh per
// authentication attempt and never reused.
type srpExchange struct {
	n, g, k *big.Int
	a, bigA *big.Int
}

// newSRPExchange generates fresh ephemeral values.
func newSRPExchange() (*srpExchange, error) {
	return newSRPExchangeFrom(rand.Reader)
}

// newSRPExchangeFrom generates an exchange using the given entropy source
// (fixed in tests for determinism).
func newSRPExchangeFrom(random io.Reader) (*srpExchange, error) {
	n, ok := new(big.Int).SetString(srpNHex, 16)
	if !ok {
		panic("cognito: bad SRP group constant")
	}
	g := big.NewInt(2)
	k := hexToBig(hashHexStrings(padHex(n) + padHex(g)))

	raw := make([]byte, 128)
	if _, err := io.ReadFull(random, raw); err != nil {
		return nil, fmt.Errorf("failed to generate SRP ephemeral: %w", err)
	}
	a := new(big.Int).Mod(new(big.Int).SetBytes(raw), n)
	bigA := new(big.Int).Exp(g, a, n)
	if new(big.Int).Mod(bigA, n).Sign() == 0 {
		return nil, fmt.Errorf("generated an illegal SRP public value")
	}

	return &srpExchange{n: n, g: g, k: k, a: a, bigA: bigA}, nil
}

// publicHex returns the SRP_A value to send with the initial request.
func (s *srpExchange) publicHex() string {
	return hex.EncodeToString(s.bigA.Bytes())
}

// passwordClaimSignature computes the PASSWORD_CLAIM_SIGNATURE for the
// provider's PASSWORD_VERIFIER challenge. poolName is the user pool id
// without its region prefix; userID, bHex, saltHex, and secretBlock come
// from the challenge parameters.
func (s *srpExchange) passwordClaimSignature(
	poolName, userID, password string,
	bHex, saltHex, secretBlock string,
	ts time.Time,
) (string, error) {
	key, err := s.sessionKey(poolName, userID, password, bHex, saltHex)
	if err != nil {
		return "", err
	}

	secret, err := base64.StdEncoding.DecodeString(secretBlock)
	if err != nil {
		return "", fmt.Errorf("failed to decode challenge secret block: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(poolName))
	mac.Write([]byte(userID))
	mac.Write(secret)
	mac.Write([]byte(ts.UTC().Format(timestampLayout)))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// sessionKey runs the SRP math: verifies the server public value, derives
// the shared secret, and stretches it into the HMAC key via HKDF.
func (s *srpExchange) sessionKey(poolName, userID, password, bHex, saltHex string) ([]byte, error) {
	b, ok := new(big.Int).SetString(bHex, 16)
	if !ok {
		return nil, fmt.Errorf("malformed server SRP_B value")
	}
	if new(big.Int).Mod(b, s.n).Sign() == 0 {
		return nil, fmt.Errorf("server sent an illegal SRP_B value")
	}
	salt, ok := new(big.Int).SetString(saltHex, 16)
	if !ok {
		return nil, fmt.Errorf("malformed server salt value")
	}

	u := hexToBig(hashHexStrings(padHex(s.bigA) + padHex(b)))
	if u.Sign() == 0 {
		return nil, fmt.Errorf("SRP scrambling parameter must not be zero")
	}

	// x = H(salt | H(pool + userID + ":" + password))
	userPassHash := hashBytes([]byte(poolName + userID + ":" + password))
	x := hexToBig(hashHexStrings(padHex(salt) + userPassHash))

	// S = (B - k * g^x) ^ (a + u*x) mod N
	gX := new(big.Int).Exp(s.g, x, s.n)
	base := new(big.Int).Sub(b, new(big.Int).Mul(s.k, gX))
	base.Mod(base, s.n)
	exp := new(big.Int).Add(s.a, new(big.Int).Mul(u, x))
	shared := new(big.Int).Exp(base, exp, s.n)

	key := make([]byte, derivedKeySize)
	kdf := hkdf.New(sha256.New, padBytes(shared), padBytes(u), []byte(derivedKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

// hashBytes returns the lowercase hex sha256 of raw bytes, zero-padded to
// 64 characters as the provider's implementation does.
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%064x", sum)
}

// hashHexStrings decodes a hex string to bytes and hashes those.
func hashHexStrings(hexStr string) string {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		// Inputs are always padHex/hash outputs, so this is unreachable
		// short of a programming error.
		panic(fmt.Sprintf("cognito: invalid hex input to hash: %v", err))
	}
	return hashBytes(raw)
}

func hexToBig(hexStr string) *big.Int {
	i, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		panic(fmt.Sprintf("cognito: invalid hex number %q", hexStr))
	}
	return i
}

// padHex renders a big integer as hex with the sign-preserving padding the
// provider expects: even length, and a leading zero byte when the top bit
// is set.
func padHex(i *big.Int) string {
	h := i.Text(16)
	if len(h)%2 == 1 {
		return "0" + h
	}
	if strings.ContainsRune("89abcdef", rune(h[0])) {
		return "00" + h
	}
	return h
}

// padBytes is padHex decoded back to raw bytes.
func padBytes(i *big.Int) []byte {
	raw, err := hex.DecodeString(padHex(i))
	if err != nil {
		panic(fmt.Sprintf("cognito: padHex produced invalid hex: %v", err))
	}
	return raw
}
