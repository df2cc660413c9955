package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

var (
	url     string
	nonce   uint64
	to      string
	value   uint64
	txType  string
	baseFee uint64
	data    []byte
)

// sendCmd represents the send command.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and send a transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	sendCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Recipient account.")
	sendCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Value to send.")
	sendCmd.Flags().StringVarP(&txType, "type", "y", "transfer", "Transaction type.")
	sendCmd.Flags().Uint64VarP(&baseFee, "base-fee", "b", 1, "Base fee unit of the chain.")
	sendCmd.Flags().BytesHexVarP(&data, "data", "d", nil, "Type specific payload as hex encoded JSON.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) {
	fromID, err := database.PublicKeyToAccountID(privateKey.PublicKey)
	if err != nil {
		log.Fatal(err)
	}

	tx, err := database.NewTx(baseFee, nonce, fromID, database.AccountID(to), value, database.TxType(txType), data)
	if err != nil {
		log.Fatal(err)
	}

	signAndPost(privateKey, tx)
}

// signAndPost signs the transaction and submits it to the node.
func signAndPost(privateKey *ecdsa.PrivateKey, tx database.Tx) {
	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		log.Fatal(err)
	}

	payload, err := json.Marshal(signedTx)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(payload))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(body))
}
