package cmd

import (
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Delegate stake to a validator",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		fromID, err := database.PublicKeyToAccountID(privateKey.PublicKey)
		if err != nil {
			log.Fatal(err)
		}

		tx, err := database.NewTx(baseFee, nonce, fromID, database.AccountID(to), value, database.TxTypeDelegate, nil)
		if err != nil {
			log.Fatal(err)
		}

		signAndPost(privateKey, tx)
	},
}

func init() {
	rootCmd.AddCommand(delegateCmd)
	delegateCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	delegateCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction.")
	delegateCmd.Flags().StringVarP(&to, "to", "t", "", "Validator account.")
	delegateCmd.Flags().Uint64VarP(&value, "value", "v", 0, "Stake to delegate.")
	delegateCmd.Flags().Uint64VarP(&baseFee, "base-fee", "b", 1, "Base fee unit of the chain.")
}
