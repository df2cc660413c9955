package cmd

import (
	"encoding/json"
	"log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/stakechain/stakechain/foundation/blockchain/database"
)

var (
	proposalID uint64
	voteOption string
)

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Vote on a governance proposal",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		fromID, err := database.PublicKeyToAccountID(privateKey.PublicKey)
		if err != nil {
			log.Fatal(err)
		}

		payload, err := json.Marshal(database.VotePayload{
			ProposalID: proposalID,
			Option:     voteOption,
		})
		if err != nil {
			log.Fatal(err)
		}

		tx, err := database.NewTx(baseFee, nonce, fromID, "", 0, database.TxTypeVote, payload)
		if err != nil {
			log.Fatal(err)
		}

		signAndPost(privateKey, tx)
	},
}

func init() {
	rootCmd.AddCommand(voteCmd)
	voteCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	voteCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction.")
	voteCmd.Flags().Uint64VarP(&proposalID, "proposal", "i", 0, "Proposal id to vote on.")
	voteCmd.Flags().StringVarP(&voteOption, "option", "o", "yes", "Vote option: yes, no, abstain, no_with_veto.")
	voteCmd.Flags().Uint64VarP(&baseFee, "base-fee", "b", 1, "Base fee unit of the chain.")
}
