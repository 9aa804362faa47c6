package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/radieske/dice-lottery-platform-poc/internal/ports"
	walletdto "github.com/radieske/dice-lottery-platform-poc/internal/wallet-service/dto"
)

// Client implementa ports.Ledger contra o wallet-service via HTTP.
// O wallet é o colaborador externo dono dos saldos; daqui só saem
// chamadas síncronas tudo-ou-nada de débito/crédito/consulta.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(base string) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 2 * time.Second},
	}
}

func (c *Client) Debit(ctx context.Context, userID string, amountCents int64, ref string) error {
	return c.post(ctx, "/wallet/debit", userID, amountCents, ref)
}

func (c *Client) Credit(ctx context.Context, userID string, amountCents int64, ref string) error {
	return c.post(ctx, "/wallet/credit", userID, amountCents, ref)
}

func (c *Client) BalanceOf(ctx context.Context, userID string) (int64, error) {
	u := c.BaseURL + "/wallet?userId=" + url.QueryEscape(userID)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ports.ErrTransferFailed, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: wallet http %d", ports.ErrTransferFailed, res.StatusCode)
	}
	var out walletdto.WalletResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: %v", ports.ErrTransferFailed, err)
	}
	return out.BalanceCents, nil
}

func (c *Client) post(ctx context.Context, path, userID string, amountCents int64, ref string) error {
	body, _ := json.Marshal(walletdto.MovementRequest{
		UserID:      userID,
		AmountCents: amountCents,
		ExternalRef: ref,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrTransferFailed, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusPaymentRequired:
		return ports.ErrInsufficientFunds
	default:
		return fmt.Errorf("%w: wallet http %d", ports.ErrTransferFailed, res.StatusCode)
	}
}
