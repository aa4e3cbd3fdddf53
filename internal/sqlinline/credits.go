package sqlinline

// QEnsureCredits creates the row on first touch. The no-op update makes the
// statement return the current balance when the row already exists.
const QEnsureCredits = `--sql ee047116-3250-4d47-86e6-f60f2587ea7e
insert into credits (user_id, balance, updated_at)
values ($1::text, $2::int, now())
on conflict (user_id) do update
    set updated_at = credits.updated_at
returning balance;
`

const QDebitCredit = `--sql 668ae77e-3c5f-49ad-9118-e8d22d9a64d6
update credits
set balance = balance - 1,
    updated_at = now()
where user_id = $1::text
  and balance >= 1
returning balance;
`

const QSelectCreditBalance = `--sql 440a5f6e-c980-475b-aa8b-405d679cc38c
select balance
from credits
where user_id = $1::text;
`

// QApplyTopUp records the payment and increments the balance in one
// statement. The increment only happens when the payment row is new.
const QApplyTopUp = `--sql f8eb6de2-7f0d-4b64-a849-9b93bcf95c9a
with payment as (
    insert into payments (id, user_id, external_txn_id, credits_added, amount_cents, status, created_at)
    values (gen_random_uuid(), $1::text, $2::text, $3::int, $4::bigint, 'completed', now())
    on conflict (external_txn_id) do nothing
    returning user_id, credits_added
),
credited as (
    insert into credits (user_id, balance, updated_at)
    select user_id, credits_added, now() from payment
    on conflict (user_id) do update
        set balance = credits.balance + excluded.balance,
            updated_at = now()
    returning balance
)
select
    coalesce(
        (select balance from credited),
        (select balance from credits where user_id = $1::text),
        0
    ) as balance,
    exists (select 1 from payment) as applied;
`

const QListPayments = `--sql 39f73042-a70e-4d68-8151-f92bc05c6816
select id::text as id, user_id, external_txn_id, credits_added, amount_cents, status, created_at
from payments
where user_id = $1
order by created_at desc
limit $2
`
