// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// uriScheme is the BIP21 URI scheme.
const uriScheme = "bitcoin"

// ErrInvalidURI is returned when a payment URI cannot be parsed.
var ErrInvalidURI = errors.New("invalid payment uri")

// PaymentURI is a BIP21 payment request: an address plus optional
// amount, label and message parameters.
type PaymentURI struct {
	// Address is the payment destination.
	Address btcutil.Address

	// Amount is the requested amount, zero when unspecified.
	Amount btcutil.Amount

	// Label identifies the receiver.
	Label string

	// Message is a note for the payment.
	Message string
}

// String renders the URI. An address with no parameters renders bare,
// which is what QR encoders expect for plain receives.
func (u *PaymentURI) String() string {
	params := u.queryString()
	if params == "" {
		return u.Address.EncodeAddress()
	}

	return fmt.Sprintf("%s:%s?%s", uriScheme, u.Address.EncodeAddress(),
		params)
}

// URI renders with the scheme prefix even without parameters, the form
// used for deep links.
func (u *PaymentURI) URI() string {
	params := u.queryString()
	if params == "" {
		return fmt.Sprintf("%s:%s", uriScheme,
			u.Address.EncodeAddress())
	}

	return fmt.Sprintf("%s:%s?%s", uriScheme, u.Address.EncodeAddress(),
		params)
}

func (u *PaymentURI) queryString() string {
	var params []string

	if u.Amount > 0 {
		// BIP21 amounts are decimal BTC.
		params = append(params, "amount="+strconv.FormatFloat(
			u.Amount.ToBTC(), 'f', -1, 64,
		))
	}
	if u.Label != "" {
		params = append(params, "label="+escapeParam(u.Label))
	}
	if u.Message != "" {
		params = append(params, "message="+escapeParam(u.Message))
	}

	return strings.Join(params, "&")
}

// escapeParam percent-encodes a parameter value. BIP21 encodes spaces
// as %20, not the form-encoding plus sign.
func escapeParam(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// ParsePaymentURI parses a BIP21 URI or a bare address, rejecting
// addresses of other networks.
func ParsePaymentURI(raw string, params *chaincfg.Params) (*PaymentURI,
	error) {

	addrPart := raw
	queryPart := ""

	if idx := strings.Index(raw, ":"); idx >= 0 {
		if !strings.EqualFold(raw[:idx], uriScheme) {
			return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURI,
				raw[:idx])
		}
		addrPart = raw[idx+1:]
	}

	if idx := strings.Index(addrPart, "?"); idx >= 0 {
		queryPart = addrPart[idx+1:]
		addrPart = addrPart[:idx]
	}

	addr, err := btcutil.DecodeAddress(addrPart, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("%w: address %v is for another "+
			"network", ErrInvalidURI, addrPart)
	}

	uri := &PaymentURI{Address: addr}
	if queryPart == "" {
		return uri, nil
	}

	values, err := url.ParseQuery(queryPart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	if amountStr := values.Get("amount"); amountStr != "" {
		btcAmount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil || btcAmount < 0 {
			return nil, fmt.Errorf("%w: amount %q", ErrInvalidURI,
				amountStr)
		}

		uri.Amount, err = btcutil.NewAmount(btcAmount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", ErrInvalidURI,
				amountStr)
		}
	}

	uri.Label = values.Get("label")
	uri.Message = values.Get("message")

	return uri, nil
}

// PaymentURI derives the account's next unused external address and
// wraps it in a BIP21 payment request.
func (w *Wallet) PaymentURI(ctx context.Context, name string,
	amount btcutil.Amount, label, message string) (*PaymentURI, error) {

	addr, err := w.NewAddress(ctx, name)
	if err != nil {
		return nil, err
	}

	return &PaymentURI{
		Address: addr,
		Amount:  amount,
		Label:   label,
		Message: message,
	}, nil
}
