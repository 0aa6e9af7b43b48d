package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/storelink/backend/internal/notify"
	"github.com/storelink/backend/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WalletWSHandler keeps a websocket open per partner and pushes balance
// refresh hints through the notify hub. On connect the current balance is
// sent once so the client starts from a known value.
func WalletWSHandler(hub *notify.Hub, wallet *services.WalletService, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := r.Context().Value("userID").(string)
		if !ok || accountID == "" {
			services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Error("websocket upgrade failed")
			return
		}

		hub.RegisterConnection(accountID, conn)
		defer hub.UnregisterConnection(accountID, conn)

		if balance, err := wallet.GetBalance(r.Context(), accountID); err == nil {
			hub.BalanceChanged(r.Context(), accountID, balance.Balance)
		} else {
			log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Warn("initial balance push failed")
		}

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				log.WithFields(logrus.Fields{"account_id": accountID, "error": err}).Debug("websocket client disconnected")
				break
			}

			if mt != websocket.TextMessage {
				continue
			}
			var req struct {
				Action string `json:"action"`
			}
			if err := json.Unmarshal(msg, &req); err == nil && req.Action == "get_balance" {
				if balance, err := wallet.GetBalance(r.Context(), accountID); err == nil {
					hub.BalanceChanged(r.Context(), accountID, balance.Balance)
				}
			}
		}
	}
}
